package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finetune-go/internal/manifest"
	"finetune-go/internal/models"
	"finetune-go/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *repository.RunRepository, *repository.EvaluationRepository, *manifest.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.TrainingRunRecord{}, &models.EvaluationRecord{}))

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	runRepo := repository.NewRunRepository(db)
	evalRepo := repository.NewEvaluationRepository(db)
	manifests := manifest.NewManager(logger)
	h := NewRunHandler(runRepo, evalRepo, manifests, logger)

	r := gin.New()
	r.GET("/api/runs", h.ListRuns)
	r.GET("/api/runs/:run_id", h.GetRun)
	r.GET("/api/runs/:run_id/evaluations", h.ListEvaluations)
	return r, runRepo, evalRepo, manifests
}

func TestListRuns(t *testing.T) {
	r, runRepo, _, _ := newTestRouter(t)

	require.NoError(t, runRepo.Create(&models.TrainingRunRecord{
		RunID: "run_a", Status: "running", StartedAt: time.Now(),
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/runs", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "run_a")
}

func TestGetRunWithManifest(t *testing.T) {
	r, runRepo, _, manifests := newTestRouter(t)

	root := t.TempDir()
	run, err := manifests.CreateRun(root, "base-7b", "run_b")
	require.NoError(t, err)
	require.NoError(t, runRepo.Create(&models.TrainingRunRecord{
		RunID: "run_b", Status: "running", RunDir: run.RunDir(), StartedAt: time.Now(),
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/runs/run_b", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	// 响应同时包含登记记录和清单
	assert.Contains(t, w.Body.String(), "record")
	assert.Contains(t, w.Body.String(), "manifest")
	assert.Contains(t, w.Body.String(), "base-7b")
}

func TestGetRunNotFound(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/runs/ghost", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEvaluations(t *testing.T) {
	r, _, evalRepo, _ := newTestRouter(t)

	require.NoError(t, evalRepo.Create(&models.EvaluationRecord{
		RunID: "run_c", Stage: "STAGE1_EVAL", TestSetID: "stage1_test",
		ExactMatchRate: 0.6, SimilarityScore: 0.8,
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/runs/run_c/evaluations", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stage1_test")
}
