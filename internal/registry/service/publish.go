package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/apierr"
	"github.com/A2AReg/a2a-registry/internal/authz"
	"github.com/A2AReg/a2a-registry/internal/cache"
	"github.com/A2AReg/a2a-registry/internal/fetcher"
	"github.com/A2AReg/a2a-registry/internal/registry/model"
	"github.com/A2AReg/a2a-registry/internal/registry/repository"
	"github.com/A2AReg/a2a-registry/internal/searchindex"
	"github.com/A2AReg/a2a-registry/internal/threat"
	"github.com/A2AReg/a2a-registry/pkg/agentcard"
)

// CardRiskScorer is the optional publish-time threat scoring hook. A nil
// value (the default) disables scoring entirely — publish proceeds without
// it, matching the teacher's nil-disables convention for optional
// middleware.
type CardRiskScorer interface {
	Score(ctx context.Context, name, description, endpoint string, caps []string) (*threat.Report, error)
}

// PublishResult is returned by PublishByValue/PublishByURL.
type PublishResult struct {
	AgentID   string
	VersionID string
	Created   bool
}

// AgentWriter is the subset of the Agent Store (C3) the Publish Service
// writes through, narrowed to an interface so publish logic can be tested
// without a live Postgres connection.
type AgentWriter interface {
	UpsertVersion(ctx context.Context, p repository.UpsertVersionParams) (*model.AgentRecord, *model.AgentVersion, bool, error)
	GetOrCreatePublisher(ctx context.Context, tenantID uuid.UUID, displayName string) (*model.Publisher, error)
}

// PublisherQuotaChecker is the subset of internal/tenant.Service the
// Publish Service consults before accepting a new agent.
type PublisherQuotaChecker interface {
	CheckQuota(ctx context.Context, publisherID uuid.UUID) error
}

// PublishService implements the Publish Service (C7): validating,
// deduplicating, and persisting Agent Cards, then fanning out to the
// search index and cache invalidation.
type PublishService struct {
	agents  AgentWriter
	tenants PublisherQuotaChecker
	index   searchindex.Index
	cache   cache.Cache
	fetcher *fetcher.Fetcher
	scorer  CardRiskScorer
	logger  *zap.Logger

	indexEnqueueTimeout time.Duration
}

// NewPublishService creates a PublishService. scorer and tenants may both
// be nil to disable threat scoring and quota enforcement respectively; pass
// the untyped nil literal, not a nil-valued *tenant.Service, to avoid the
// typed-nil-interface trap.
func NewPublishService(
	agents AgentWriter,
	tenants PublisherQuotaChecker,
	index searchindex.Index,
	c cache.Cache,
	f *fetcher.Fetcher,
	scorer CardRiskScorer,
	logger *zap.Logger,
) *PublishService {
	return &PublishService{
		agents:              agents,
		tenants:             tenants,
		index:               index,
		cache:               c,
		fetcher:             f,
		scorer:              scorer,
		logger:              logger,
		indexEnqueueTimeout: searchindex.EnqueueTimeout,
	}
}

// requireCatalogManager enforces step 1 of spec.md §4.7's algorithm:
// CatalogManager or Administrator is required for any publish, and
// publisher_override additionally requires Administrator.
func requireCatalogManager(principal authz.Principal, publisherOverride string) error {
	if !principal.HasRole(authz.RoleCatalogManager) && !principal.IsAdministrator() {
		return apierr.Forbidden("publish requires catalog_manager or administrator role")
	}
	if publisherOverride != "" && !principal.IsAdministrator() {
		return apierr.Forbidden("publisher_override requires administrator role")
	}
	return nil
}

// resolvePublisher resolves the publisher a card is published under: the
// override when given (already authorized by requireCatalogManager), else
// one derived from the principal's subject.
func (s *PublishService) resolvePublisher(ctx context.Context, tenantID uuid.UUID, principal authz.Principal, publisherOverride string) (*model.Publisher, error) {
	name := publisherOverride
	if name == "" {
		name = principal.Subject
	}
	pub, err := s.agents.GetOrCreatePublisher(ctx, tenantID, name)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindOverloaded, "resolve publisher", err)
	}
	return pub, nil
}

// PublishByValue implements publish_by_value(principal, card, public,
// publisher_override?).
func (s *PublishService) PublishByValue(ctx context.Context, principal authz.Principal, card *agentcard.Card, public bool, publisherOverride string) (*PublishResult, error) {
	if err := requireCatalogManager(principal, publisherOverride); err != nil {
		return nil, err
	}
	return s.publish(ctx, principal, card, public, publisherOverride, model.SourceByValue, "", false)
}

// PublishByURL implements publish_by_url(principal, card_url, public,
// publisher_override?): delegates to the Card Fetcher (C2) for bytes.
func (s *PublishService) PublishByURL(ctx context.Context, principal authz.Principal, cardURL string, public bool, publisherOverride string) (*PublishResult, error) {
	if err := requireCatalogManager(principal, publisherOverride); err != nil {
		return nil, err
	}

	res, err := s.fetcher.Fetch(ctx, cardURL)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "fetch card from url", err)
	}

	card, err := agentcard.ParseRaw(res.Body)
	if err != nil {
		return nil, apierr.InvalidCard([]apierr.FieldError{{FieldPath: "cardUrl", Reason: "fetched body is not a well-formed card: " + err.Error()}})
	}

	return s.publish(ctx, principal, card, public, publisherOverride, model.SourceByURL, cardURL, false)
}

func (s *PublishService) publish(
	ctx context.Context,
	principal authz.Principal,
	card *agentcard.Card,
	public bool,
	publisherOverride string,
	source model.Source,
	sourceURL string,
	signed bool,
) (*PublishResult, error) {
	// Step 2: parse+validate (C1). ParseRaw already ran for publish_by_url;
	// Validate always runs here so both entry shapes get the same check.
	if errs := agentcard.Validate(card); errs != nil {
		fields := make([]apierr.FieldError, len(errs))
		for i, e := range errs {
			fields[i] = apierr.FieldError{FieldPath: e.FieldPath, Reason: e.Reason}
		}
		return nil, apierr.InvalidCard(fields)
	}

	tenantID, err := uuid.Parse(principal.Tenant)
	if err != nil {
		return nil, apierr.Forbidden("principal has no valid tenant")
	}

	// Step 3: resolve publisher.
	publisher, err := s.resolvePublisher(ctx, tenantID, principal, publisherOverride)
	if err != nil {
		return nil, err
	}

	if s.tenants != nil {
		if err := s.tenants.CheckQuota(ctx, publisher.ID); err != nil {
			return nil, apierr.New(apierr.KindForbidden, "publisher has reached its agent quota")
		}
	}

	if s.scorer != nil {
		caps := capabilityNames(card)
		report, err := s.scorer.Score(ctx, card.Name, card.Description, card.URL, caps)
		if err != nil && s.logger != nil {
			s.logger.Warn("threat scoring failed, publish proceeds", zap.Error(err))
		}
		if report != nil && report.Rejected {
			return nil, apierr.InvalidCard([]apierr.FieldError{{FieldPath: "card", Reason: "rejected by publish-time risk scoring: " + report.Severity}})
		}
	}

	contentHash, err := agentcard.ContentHash(card)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindOverloaded, "hash card", err)
	}

	// Step 4: upsert_version (C3).
	record, version, created, err := s.agents.UpsertVersion(ctx, repository.UpsertVersionParams{
		TenantID:    tenantID,
		PublisherID: publisher.ID,
		Name:        card.Name,
		Version:     card.Version,
		Card:        card,
		ContentHash: contentHash,
		Source:      source,
		SourceURL:   sourceURL,
		Signed:      signed,
		Public:      public,
	})
	if err != nil {
		if repository.ErrFederatedImmutable(err) {
			return nil, apierr.New(apierr.KindConflict, "agent is federated and cannot be locally mutated")
		}
		return nil, apierr.Wrap(apierr.KindOverloaded, "upsert agent version", err)
	}

	if !created {
		// Idempotent no-op: the exact bytes were already published.
		return &PublishResult{AgentID: record.ID.String(), VersionID: version.ID.String(), Created: false}, nil
	}

	// Step 5: write the Search Indexer upsert directly, bounded by the
	// publish backpressure timeout; if it fails the publish still succeeds
	// (version retained) but reports Overloaded. The failed write is not
	// recorded in the repair log, so the agent stays out of search until a
	// later index write for it succeeds.
	enqueueCtx, cancel := context.WithTimeout(ctx, s.indexEnqueueTimeout)
	defer cancel()
	view := toAgentView(record, card)
	enqueueErr := s.index.Upsert(enqueueCtx, view)

	// Step 6: invalidate cache entries for the tenant.
	if s.cache != nil {
		if err := s.cache.DeletePattern(ctx, cache.TenantPattern(tenantID.String())); err != nil && s.logger != nil {
			s.logger.Warn("tenant cache invalidation failed", zap.Error(err))
		}
		if public {
			if err := s.cache.DeletePattern(ctx, cache.WellKnownPattern); err != nil && s.logger != nil {
				s.logger.Warn("well-known cache invalidation failed", zap.Error(err))
			}
		}
	}

	// Step 7: return {agent_id, version_id, created}.
	result := &PublishResult{AgentID: record.ID.String(), VersionID: version.ID.String(), Created: true}
	if enqueueErr != nil {
		return result, apierr.Wrap(apierr.KindOverloaded, "search index write failed; version retained but not indexed", enqueueErr)
	}
	return result, nil
}

func capabilityNames(card *agentcard.Card) []string {
	var caps []string
	if card.Capabilities.Streaming {
		caps = append(caps, "streaming")
	}
	if card.Capabilities.PushNotifications {
		caps = append(caps, "pushNotifications")
	}
	if card.Capabilities.StateTransitionHistory {
		caps = append(caps, "stateTransitionHistory")
	}
	return caps
}

func toAgentView(rec *model.AgentRecord, card *agentcard.Card) searchindex.AgentView {
	var schemeTypes []string
	for _, s := range card.SecuritySchemes {
		schemeTypes = append(schemeTypes, string(s.Type))
	}
	var tags []string
	for _, sk := range card.Skills {
		tags = append(tags, sk.Tags...)
	}
	return searchindex.AgentView{
		AgentID:             rec.ID,
		TenantID:            rec.TenantID,
		PublisherID:         rec.PublisherID,
		Name:                card.Name,
		Description:         card.Description,
		Tags:                tags,
		Streaming:           card.Capabilities.Streaming,
		PushNotifications:   card.Capabilities.PushNotifications,
		StateTransitionLog:  card.Capabilities.StateTransitionHistory,
		SecuritySchemeTypes: schemeTypes,
		PreferredTransport:  string(card.Interface.PreferredTransport),
		Public:              rec.Public,
		FederatedFrom:       rec.FederatedFrom,
		UpdatedAt:           rec.UpdatedAt,
	}
}
