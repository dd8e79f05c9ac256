package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pixeldeck/pixeldeck/internal/core"
	"github.com/pixeldeck/pixeldeck/internal/data"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
	apperrors "github.com/pixeldeck/pixeldeck/internal/errors"
)

// ExecutionServiceOptions groups dependencies for ExecutionService.
type ExecutionServiceOptions struct {
	Executions core.ExecutionRepository // Required: execution ledger
	Images     core.ImageRepository     // Required: image ledger
	Logger     *slog.Logger             // Optional: structured logger
}

// ExecutionService provides read and maintenance operations over the ledgers:
// listing, rename, explicit deletion, and manual image review.
type ExecutionService struct {
	executions core.ExecutionRepository
	images     core.ImageRepository
	logger     *slog.Logger
}

// NewExecutionService constructs a new ExecutionService.
func NewExecutionService(opts ExecutionServiceOptions) (*ExecutionService, error) {
	if opts.Executions == nil {
		return nil, errors.New("ExecutionRepository is required")
	}
	if opts.Images == nil {
		return nil, errors.New("ImageRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "execution_service")
	}
	return &ExecutionService{
		executions: opts.Executions,
		images:     opts.Images,
		logger:     logger,
	}, nil
}

// Get returns an execution by id.
func (s *ExecutionService) Get(ctx context.Context, id string) (*model.Execution, error) {
	exec, err := s.executions.GetByID(ctx, id)
	if errors.Is(err, data.ErrExecutionNotFound) {
		return nil, apperrors.NotFoundf("execution %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// List returns executions newest-first.
func (s *ExecutionService) List(ctx context.Context, limit, offset int) ([]*model.Execution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.executions.List(ctx, limit, offset)
}

// ListImages returns an execution's images oldest-first.
func (s *ExecutionService) ListImages(ctx context.Context, executionID string) ([]*model.GeneratedImage, error) {
	if _, err := s.Get(ctx, executionID); err != nil {
		return nil, err
	}
	return s.images.ListByExecution(ctx, executionID)
}

// ListImagesByStatus returns images in a quality-review state across all
// executions, the cross-run view used to collect failures for a retry batch.
func (s *ExecutionService) ListImagesByStatus(ctx context.Context, status string) ([]*model.GeneratedImage, error) {
	var qc model.QCStatus
	if err := qc.UnmarshalText([]byte(status)); err != nil {
		return nil, apperrors.Validationf("invalid qc status: %q", status)
	}
	return s.images.ListByStatus(ctx, qc)
}

// Rename sets a new label on an execution. This is the explicit rename path;
// nothing else rewrites labels.
func (s *ExecutionService) Rename(ctx context.Context, id, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return apperrors.Validation("label is required")
	}

	err := s.executions.Rename(ctx, id, label)
	if errors.Is(err, data.ErrExecutionNotFound) {
		return apperrors.NotFoundf("execution %s not found", id)
	}
	if err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "execution renamed", "execution_id", id, "label", label)
	}
	return nil
}

// Delete removes an execution and its images. Running executions are
// protected; they must reach a terminal state first.
func (s *ExecutionService) Delete(ctx context.Context, id string) error {
	exec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if exec.Status == model.ExecutionStatusRunning {
		return apperrors.Conflict("cannot delete a running execution")
	}

	if err := s.executions.Delete(ctx, id); err != nil {
		if errors.Is(err, data.ErrExecutionNotFound) {
			return apperrors.NotFoundf("execution %s not found", id)
		}
		return err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "execution deleted", "execution_id", id)
	}
	return nil
}

// ApproveImage manually approves an image. The final path defaults to the
// image's temp path when none is supplied, mirroring the approval move.
func (s *ExecutionService) ApproveImage(ctx context.Context, imageID string, finalPath *string) error {
	img, err := s.images.GetByID(ctx, imageID)
	if errors.Is(err, data.ErrImageNotFound) {
		return apperrors.NotFoundf("image %s not found", imageID)
	}
	if err != nil {
		return err
	}
	if img.QCStatus == model.QCStatusProcessing {
		return apperrors.Conflict("image is being retried; wait for the retry to finish")
	}

	if finalPath == nil {
		finalPath = img.TempPath
	}
	if err := s.images.Approve(ctx, imageID, finalPath); err != nil {
		return fmt.Errorf("approve image %s: %w", imageID, err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "image approved", "image_id", imageID)
	}
	return nil
}

// RejectImage manually fails an image's quality review, the counterpart to
// ApproveImage. Rejected images land in qc_failed and stay retryable.
func (s *ExecutionService) RejectImage(ctx context.Context, imageID string) error {
	img, err := s.images.GetByID(ctx, imageID)
	if errors.Is(err, data.ErrImageNotFound) {
		return apperrors.NotFoundf("image %s not found", imageID)
	}
	if err != nil {
		return err
	}
	if img.QCStatus == model.QCStatusProcessing {
		return apperrors.Conflict("image is being retried; wait for the retry to finish")
	}

	if err := s.images.MarkQCFailed(ctx, imageID); err != nil {
		return fmt.Errorf("reject image %s: %w", imageID, err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "image rejected", "image_id", imageID)
	}
	return nil
}

// Stats summarises the execution ledger.
func (s *ExecutionService) Stats(ctx context.Context) (*model.ExecutionStats, error) {
	return s.executions.Stats(ctx)
}
