package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/registry/model"
)

// QuotaConfig holds the per-publisher agent limit, the same
// zero-means-unlimited shape the teacher's free-tier config used, now
// measured per publisher rather than per free-tier user.
type QuotaConfig struct {
	MaxAgentsPerPublisher int // 0 = unlimited
}

// Service is the administrative directory: tenant/publisher CRUD plus the
// quota check the Publish Service consults before accepting a new agent.
type Service struct {
	repo   *Repository
	quota  QuotaConfig
	logger *zap.Logger
}

// NewService creates a Service backed by repo, enforcing quota.
func NewService(repo *Repository, quota QuotaConfig, logger *zap.Logger) *Service {
	return &Service{repo: repo, quota: quota, logger: logger}
}

// CreateTenant creates a new Tenant.
func (s *Service) CreateTenant(ctx context.Context, name string) (*model.Tenant, error) {
	return s.repo.CreateTenant(ctx, name)
}

// GetTenant returns a Tenant by id.
func (s *Service) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	return s.repo.GetTenant(ctx, id)
}

// ListTenants returns every Tenant.
func (s *Service) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	return s.repo.ListTenants(ctx)
}

// CreatePublisher creates a new Publisher under tenantID.
func (s *Service) CreatePublisher(ctx context.Context, tenantID uuid.UUID, displayName string) (*model.Publisher, error) {
	return s.repo.CreatePublisher(ctx, tenantID, displayName)
}

// GetPublisher returns a Publisher by id.
func (s *Service) GetPublisher(ctx context.Context, id uuid.UUID) (*model.Publisher, error) {
	return s.repo.GetPublisher(ctx, id)
}

// ListPublishers returns every Publisher under tenantID.
func (s *Service) ListPublishers(ctx context.Context, tenantID uuid.UUID) ([]*model.Publisher, error) {
	return s.repo.ListPublishers(ctx, tenantID)
}

// ErrQuotaExceeded is returned by CheckQuota when publisherID has reached
// MaxAgentsPerPublisher non-hidden agent records.
var ErrQuotaExceeded = fmt.Errorf("tenant: publisher agent quota exceeded")

// CheckQuota enforces MAX_AGENTS_PER_CLIENT — only when configured above
// zero, matching the teacher's nil/zero-disables convention.
func (s *Service) CheckQuota(ctx context.Context, publisherID uuid.UUID) error {
	if s.quota.MaxAgentsPerPublisher <= 0 {
		return nil
	}
	count, err := s.repo.CountAgents(ctx, publisherID)
	if err != nil {
		return err
	}
	if count >= s.quota.MaxAgentsPerPublisher {
		return ErrQuotaExceeded
	}
	return nil
}
