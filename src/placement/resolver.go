package placement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tradecopier/src/model"
	"tradecopier/src/repository"
	"tradecopier/src/security"
)

var (
	ErrNotDeployed        = errors.New("account is not deployed to any placement")
	ErrCapacityContention = errors.New("could not reserve a placement slot")
)

const StatusNotDeployed = "not_deployed"

// Notifier receives account and system-event changes for the fan-out layer.
type Notifier interface {
	AccountChanged(account *model.Account)
	SystemEventLogged(event *model.SystemEvent)
}

// StatusReport is the answer to a status query for one account.
type StatusReport struct {
	Status        string           `json:"status"`
	Message       string           `json:"message"`
	Placement     *model.Placement `json:"placement,omitempty"`
	LastConnected *time.Time       `json:"last_connected,omitempty"`
}

// Overview summarizes the container fleet for a user.
type Overview struct {
	Placements []model.Placement `json:"containers"`
	Accounts   []model.Account   `json:"accounts"`
	Summary    OverviewSummary   `json:"summary"`
}

type OverviewSummary struct {
	TotalContainers  int `json:"total_containers"`
	ActiveContainers int `json:"active_containers"`
	TotalCapacity    int `json:"total_capacity"`
	UsedCapacity     int `json:"used_capacity"`
}

// Resolver assigns live account sessions to placements, keeping every
// placement's account count within [0, capacity] under concurrent calls.
type Resolver struct {
	logger *logrus.Entry

	placements *repository.PlacementRepository
	accounts   *repository.AccountRepository
	events     *repository.SystemEventRepository

	orchestrator Orchestrator
	notifier     Notifier
	config       Config
	now          func() time.Time
}

func NewResolver(
	logger *logrus.Entry,
	placements *repository.PlacementRepository,
	accounts *repository.AccountRepository,
	events *repository.SystemEventRepository,
	orchestrator Orchestrator,
	notifier Notifier,
	config Config,
) *Resolver {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Resolver{
		logger:       logger,
		placements:   placements,
		accounts:     accounts,
		events:       events,
		orchestrator: orchestrator,
		notifier:     notifier,
		config:       config,
		now:          time.Now,
	}
}

// Deploy brings the account's trading session up on a placement: pick the
// least-loaded active placement with spare capacity (provisioning a new one
// when the fleet is full), reserve a slot, run the orchestrator deploy, and
// commit the association only on success.
func (r *Resolver) Deploy(ctx context.Context, account *model.Account) (*model.Placement, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.config.OrchestratorTimeout)
	defer cancel()

	placement, err := r.reserveSlot(opCtx)
	if err != nil {
		r.logDeployFailure(ctx, account, nil, err)
		return nil, err
	}

	creds, err := security.DecryptCredentials(account.CredentialsEncrypted)
	if err != nil {
		r.releaseSlot(ctx, placement.ID)
		err = fmt.Errorf("failed to open account credentials: %w", err)
		r.logDeployFailure(ctx, account, placement, err)
		return nil, err
	}

	if err := r.orchestrator.Deploy(opCtx, placement, account, creds); err != nil {
		// The association is never committed on a failed bring-up; the
		// reserved slot goes back to the pool.
		r.releaseSlot(ctx, placement.ID)
		r.logDeployFailure(ctx, account, placement, err)
		return nil, err
	}

	connectedAt := r.now().UTC()
	if err := r.accounts.SetDeployment(ctx, account.ID, placement.ID, connectedAt); err != nil {
		r.releaseSlot(ctx, placement.ID)
		r.logDeployFailure(ctx, account, placement, err)
		return nil, err
	}

	account.PlacementID = &placement.ID
	account.IsActive = true
	account.LastConnectedAt = &connectedAt

	event := &model.SystemEvent{
		EventType:   model.EventAccountDeployed,
		AccountID:   &account.ID,
		PlacementID: &placement.ID,
		Severity:    model.SeverityInfo,
		Message:     fmt.Sprintf("Account %s deployed to container %s", account.AccountLogin, placement.ContainerID),
		Metadata: map[string]any{
			"platform": account.Platform,
			"role":     account.Role,
			"region":   placement.Region,
		},
	}
	r.events.Log(ctx, event)
	r.notifyAccount(account)
	r.notifyEvent(event)

	r.logger.WithFields(logrus.Fields{
		"account_id":   account.ID,
		"container_id": placement.ContainerID,
	}).Info("account deployed")

	return placement, nil
}

// reserveSlot claims one account slot on the least-loaded placement,
// provisioning a fresh placement when the fleet is full. Reservations race
// fairly: a placement that fills between selection and the guarded
// increment is simply retried.
func (r *Resolver) reserveSlot(ctx context.Context) (*model.Placement, error) {
	attempts := r.config.ReserveAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		placement, err := r.placements.FindAvailable(ctx)
		if err != nil {
			return nil, err
		}

		if placement == nil {
			placement, err = r.provision(ctx)
			if err != nil {
				return nil, err
			}
		}

		reserved, err := r.placements.AddAccount(ctx, placement.ID)
		if err != nil {
			return nil, err
		}
		if reserved {
			placement.AccountCount++
			return placement, nil
		}
	}

	return nil, ErrCapacityContention
}

func (r *Resolver) releaseSlot(ctx context.Context, placementID uint) {
	if err := r.placements.RemoveAccount(ctx, placementID); err != nil {
		r.logger.WithError(err).WithField("placement_id", placementID).
			Error("failed to release reserved placement slot")
	}
}

// provision creates a fresh placement record for the fleet.
func (r *Resolver) provision(ctx context.Context) (*model.Placement, error) {
	placement := &model.Placement{
		ContainerID: "vps-" + uuid.NewString(),
		Region:      r.config.DefaultRegion,
		Status:      model.PlacementStatusActive,
		MaxAccounts: model.DefaultPlacementCapacity,
	}

	if err := r.placements.Create(ctx, placement); err != nil {
		return nil, fmt.Errorf("failed to provision placement: %w", err)
	}

	r.logger.WithField("container_id", placement.ContainerID).Info("provisioned new placement")

	return placement, nil
}

// Stop tears the account's session down and releases its slot. The count
// decrement is clamped at zero.
func (r *Resolver) Stop(ctx context.Context, account *model.Account) error {
	if account.PlacementID == nil {
		return ErrNotDeployed
	}
	placementID := *account.PlacementID

	placement, err := r.placements.FindByID(ctx, placementID)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, r.config.OrchestratorTimeout)
	defer cancel()

	if placement != nil {
		if err := r.orchestrator.Stop(opCtx, placement, account); err != nil {
			event := &model.SystemEvent{
				EventType:   model.EventAccountStopFailed,
				AccountID:   &account.ID,
				PlacementID: &placementID,
				Severity:    model.SeverityError,
				Message:     fmt.Sprintf("Failed to stop account %s: %s", account.AccountLogin, err),
			}
			r.events.Log(ctx, event)
			r.notifyEvent(event)
			return err
		}
	}

	cleared, err := r.accounts.ClearDeployment(ctx, account.ID)
	if err != nil {
		return err
	}
	// A concurrent stop that cleared the deployment first already released
	// the slot; decrementing again would undercount the placement.
	if cleared {
		r.releaseSlot(ctx, placementID)
	}

	account.PlacementID = nil
	account.IsActive = false

	event := &model.SystemEvent{
		EventType:   model.EventAccountStopped,
		AccountID:   &account.ID,
		PlacementID: &placementID,
		Severity:    model.SeverityInfo,
		Message:     fmt.Sprintf("Account %s stopped", account.AccountLogin),
	}
	r.events.Log(ctx, event)
	r.notifyAccount(account)
	r.notifyEvent(event)

	return nil
}

// Restart is stop-then-deploy with best-effort semantics: a failed stop is
// reported but does not block the deploy attempt, and there is no rollback
// when the deploy fails after a successful stop.
func (r *Resolver) Restart(ctx context.Context, account *model.Account) (*model.Placement, error) {
	if err := r.Stop(ctx, account); err != nil && !errors.Is(err, ErrNotDeployed) {
		r.logger.WithError(err).WithField("account_id", account.ID).
			Warn("stop failed during restart, continuing with deploy")
	}

	return r.Deploy(ctx, account)
}

// Status reports where the account runs and how healthy the session is.
func (r *Resolver) Status(ctx context.Context, account *model.Account) (*StatusReport, error) {
	if account.PlacementID == nil {
		return &StatusReport{
			Status:  StatusNotDeployed,
			Message: "Account not deployed to any container",
		}, nil
	}

	placement, err := r.placements.FindByID(ctx, *account.PlacementID)
	if err != nil {
		return nil, err
	}
	if placement == nil {
		return &StatusReport{
			Status:  "error",
			Message: "Container not found",
		}, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, r.config.OrchestratorTimeout)
	defer cancel()

	health, err := r.orchestrator.Health(opCtx, placement, account)
	if err != nil {
		return &StatusReport{
			Status:        "error",
			Message:       err.Error(),
			Placement:     placement,
			LastConnected: account.LastConnectedAt,
		}, nil
	}

	if err := r.placements.UpdateMetrics(ctx, placement.ID, health.CPUUsage, health.MemoryUsage); err == nil {
		placement.CPUUsage = health.CPUUsage
		placement.MemoryUsage = health.MemoryUsage
	}

	return &StatusReport{
		Status:        health.Status,
		Message:       health.Message,
		Placement:     placement,
		LastConnected: account.LastConnectedAt,
	}, nil
}

// FleetOverview lists the container fleet plus the user's accounts and a
// capacity summary.
func (r *Resolver) FleetOverview(ctx context.Context, userID uint) (*Overview, error) {
	placements, err := r.placements.List(ctx)
	if err != nil {
		return nil, err
	}

	accounts, err := r.accounts.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := OverviewSummary{TotalContainers: len(placements)}
	for i := range placements {
		if placements[i].Status == model.PlacementStatusActive {
			summary.ActiveContainers++
		}
		summary.TotalCapacity += placements[i].MaxAccounts
		summary.UsedCapacity += placements[i].AccountCount
	}

	return &Overview{
		Placements: placements,
		Accounts:   accounts,
		Summary:    summary,
	}, nil
}

func (r *Resolver) logDeployFailure(ctx context.Context, account *model.Account, placement *model.Placement, cause error) {
	event := &model.SystemEvent{
		EventType: model.EventAccountDeploymentFailed,
		AccountID: &account.ID,
		Severity:  model.SeverityError,
		Message:   fmt.Sprintf("Failed to deploy account %s: %s", account.AccountLogin, cause),
		Metadata:  map[string]any{"error": cause.Error()},
	}
	if placement != nil {
		event.PlacementID = &placement.ID
	}
	r.events.Log(ctx, event)
	r.notifyEvent(event)

	r.logger.WithError(cause).WithField("account_id", account.ID).Error("account deployment failed")
}

func (r *Resolver) notifyAccount(account *model.Account) {
	if r.notifier != nil {
		r.notifier.AccountChanged(account)
	}
}

func (r *Resolver) notifyEvent(event *model.SystemEvent) {
	if r.notifier != nil {
		r.notifier.SystemEventLogged(event)
	}
}
