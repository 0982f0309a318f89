package trainer

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strings"

	"finetune-go/internal/errs"

	"github.com/sirupsen/logrus"
)

// stderrTailLines 保留的stderr末尾行数, 错误时原样带回
const stderrTailLines = 50

// runTool 以阻塞方式执行外部工具子进程
// 标准输出/错误输出各开一个goroutine逐行读入日志, 非零退出返回ExternalToolError
func runTool(ctx context.Context, logger *logrus.Logger, tool, runID, stage, workDir, bin string, args []string) error {
	logger.Infof("[%s] 执行命令: %s %s", tool, bin, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, bin, args...)

	// 禁用Python输出缓冲, 保证日志实时可见
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	if workDir != "" {
		cmd.Dir = workDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &errs.ExternalToolError{Tool: tool, RunID: runID, Stage: stage, ExitCode: -1, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &errs.ExternalToolError{Tool: tool, RunID: runID, Stage: stage, ExitCode: -1, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &errs.ExternalToolError{Tool: tool, RunID: runID, Stage: stage, ExitCode: -1, Err: err}
	}
	logger.Infof("[%s] 进程已启动, PID: %d", tool, cmd.Process.Pid)

	done := make(chan struct{}, 2)
	var stderrTail []string

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			logger.Infof("[%s STDOUT] %s", tool, scanner.Text())
		}
		done <- struct{}{}
	}()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			logger.Warnf("[%s STDERR] %s", tool, line)
			stderrTail = append(stderrTail, line)
			if len(stderrTail) > stderrTailLines {
				stderrTail = stderrTail[1:]
			}
		}
		done <- struct{}{}
	}()

	waitErr := cmd.Wait()
	for i := 0; i < 2; i++ {
		<-done
	}

	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &errs.ExternalToolError{
			Tool:     tool,
			RunID:    runID,
			Stage:    stage,
			ExitCode: exitCode,
			Stderr:   strings.Join(stderrTail, "\n"),
			Err:      waitErr,
		}
	}

	logger.Infof("[%s] 进程正常结束", tool)
	return nil
}
