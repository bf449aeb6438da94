package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// Service is the onboarding surface the HTTP layer drives.
type Service interface {
	StartOnboarding(ctx context.Context, req models.OnboardRequest) (*models.StartResult, error)
	GetStatus(ctx context.Context, merchantID string) (*models.Job, error)
	RunJob(ctx context.Context, jobID string) (*models.Job, error)
	GetMerchant(ctx context.Context, merchantID string) (*models.Merchant, error)
	ListMerchants(ctx context.Context, userID string) ([]models.Merchant, error)
	UpdateMerchant(ctx context.Context, merchantID string, patch models.MerchantPatch) (*models.MerchantUpdateResult, error)
	DeleteMerchant(ctx context.Context, merchantID string) error
	IssueUploadURL(ctx context.Context, req models.UploadURLRequest) (*models.UploadURLResponse, error)
	ConfirmUpload(ctx context.Context, req models.ConfirmUploadRequest) (*models.ConfirmUploadResponse, error)
	IssueBulkUploadURLs(ctx context.Context, req models.BulkUploadURLRequest) (*models.BulkUploadURLResponse, error)
	SavePersona(ctx context.Context, req models.OnboardRequest) (*models.PersonaResult, error)
	ListKnowledgeBase(ctx context.Context, merchantID string) (*models.KnowledgeBaseListing, error)
	DeleteKnowledgeBaseFile(ctx context.Context, merchantID, name string) (string, error)
	GetMerchantConfig(ctx context.Context, merchantID string) (*models.StoredConfig, error)
	UpdateMerchantConfig(ctx context.Context, merchantID string, updates map[string]any) (*models.ConfigUpdateResult, error)
}

// decodeJSON reads a single JSON object, rejecting unknown fields. Field
// validation happens in the service.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	defer func() {
		io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return models.NewValidationError("body", "is required")
		}
		return fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err)
	}
	return nil
}

func startOnboarding(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.OnboardRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.StartOnboarding(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

func onboardStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.GetStatus(r.Context(), chi.URLParam(r, "merchantID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// runJob is the workflow callback. The pipeline keeps running if the caller
// disconnects.
func runJob(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		job, err := svc.RunJob(context.WithoutCancel(r.Context()), jobID)
		if errors.Is(err, models.ErrJobClaimed) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "job_id": jobID})
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func issueUploadURL(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.UploadURLRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.IssueUploadURL(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func confirmUpload(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.ConfirmUploadRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.ConfirmUpload(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func issueBulkUploadURLs(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.BulkUploadURLRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.IssueBulkUploadURLs(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func savePersona(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.OnboardRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.SavePersona(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if res.Status == "saved" {
			status = http.StatusCreated
		}
		writeJSON(w, status, res)
	}
}

func listKnowledgeBase(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.ListKnowledgeBase(r.Context(), chi.URLParam(r, "merchantID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func deleteKnowledgeBaseFile(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID := chi.URLParam(r, "merchantID")
		objectPath, err := svc.DeleteKnowledgeBaseFile(r.Context(), merchantID, chi.URLParam(r, "*"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "merchant_id": merchantID, "object_path": objectPath})
	}
}

func getMerchantConfig(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.GetMerchantConfig(r.Context(), chi.URLParam(r, "merchantID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func updateMerchantConfig(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var updates map[string]any
		if err := decodeJSON(w, r, &updates); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.UpdateMerchantConfig(r.Context(), chi.URLParam(r, "merchantID"), updates)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func listMerchants(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, r, models.NewValidationError("user_id", "is required"))
			return
		}
		list, err := svc.ListMerchants(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"merchants": list})
	}
}

func getMerchant(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := svc.GetMerchant(r.Context(), chi.URLParam(r, "merchantID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func updateMerchant(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch models.MerchantPatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.UpdateMerchant(r.Context(), chi.URLParam(r, "merchantID"), patch)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func deleteMerchant(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID := chi.URLParam(r, "merchantID")
		if err := svc.DeleteMerchant(r.Context(), merchantID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "merchant_id": merchantID})
	}
}

func health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
