package tenant_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/A2AReg/a2a-registry/internal/tenant"
)

func TestQuotaConfigZeroMeansUnlimited(t *testing.T) {
	// CheckQuota short-circuits before touching the repository when the
	// quota is zero, so a nil *Repository is safe here — this only
	// exercises the disabled-quota branch.
	svc := tenant.NewService(nil, tenant.QuotaConfig{MaxAgentsPerPublisher: 0}, nil)
	require.NoError(t, svc.CheckQuota(context.Background(), uuid.New()))
}
