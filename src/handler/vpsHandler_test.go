package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"tradecopier/src/model"
	"tradecopier/src/placement"
)

type mockResolver struct {
	container *model.Placement
	report    *placement.StatusReport
	overview  *placement.Overview
	err       error

	deploys  int
	stops    int
	restarts int
	statuses int
}

func (m *mockResolver) Deploy(ctx context.Context, account *model.Account) (*model.Placement, error) {
	m.deploys++
	return m.container, m.err
}

func (m *mockResolver) Stop(ctx context.Context, account *model.Account) error {
	m.stops++
	return m.err
}

func (m *mockResolver) Restart(ctx context.Context, account *model.Account) (*model.Placement, error) {
	m.restarts++
	return m.container, m.err
}

func (m *mockResolver) Status(ctx context.Context, account *model.Account) (*placement.StatusReport, error) {
	m.statuses++
	return m.report, m.err
}

func (m *mockResolver) FleetOverview(ctx context.Context, userID uint) (*placement.Overview, error) {
	return m.overview, m.err
}

func TestVPSActionHandler_Unauthorized(t *testing.T) {
	handler := VPSActionHandler(&mockAccountFinder{}, &mockResolver{})

	req := httptest.NewRequest(http.MethodPost, "/vps", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestVPSActionHandler_AccountNotOwned(t *testing.T) {
	handler := VPSActionHandler(&mockAccountFinder{account: nil}, &mockResolver{})

	req := authed(httptest.NewRequest(http.MethodPost, "/vps",
		strings.NewReader(`{"accountId":5,"action":"deploy"}`)), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestVPSActionHandler_Deploy(t *testing.T) {
	accounts := &mockAccountFinder{account: &model.Account{ID: 5, UserID: 1}}
	resolver := &mockResolver{container: &model.Placement{ID: 2, ContainerID: "vps-a"}}
	handler := VPSActionHandler(accounts, resolver)

	req := authed(httptest.NewRequest(http.MethodPost, "/vps",
		strings.NewReader(`{"accountId":5,"action":"deploy"}`)), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	if resolver.deploys != 1 {
		t.Fatalf("expected one deploy call, got %d", resolver.deploys)
	}
	assert.Contains(t, rr.Body.String(), `"vps-a"`)
}

func TestVPSActionHandler_StopNotDeployed(t *testing.T) {
	accounts := &mockAccountFinder{account: &model.Account{ID: 5, UserID: 1}}
	resolver := &mockResolver{err: placement.ErrNotDeployed}
	handler := VPSActionHandler(accounts, resolver)

	req := authed(httptest.NewRequest(http.MethodPost, "/vps",
		strings.NewReader(`{"accountId":5,"action":"stop"}`)), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestVPSActionHandler_CapacityContention(t *testing.T) {
	accounts := &mockAccountFinder{account: &model.Account{ID: 5, UserID: 1}}
	resolver := &mockResolver{err: placement.ErrCapacityContention}
	handler := VPSActionHandler(accounts, resolver)

	req := authed(httptest.NewRequest(http.MethodPost, "/vps",
		strings.NewReader(`{"accountId":5,"action":"deploy"}`)), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestVPSActionHandler_Status(t *testing.T) {
	accounts := &mockAccountFinder{account: &model.Account{ID: 5, UserID: 1}}
	resolver := &mockResolver{report: &placement.StatusReport{Status: "running", Message: "ok"}}
	handler := VPSActionHandler(accounts, resolver)

	req := authed(httptest.NewRequest(http.MethodPost, "/vps",
		strings.NewReader(`{"accountId":5,"action":"status"}`)), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	assert.Contains(t, rr.Body.String(), `"running"`)
}

func TestVPSActionHandler_UnknownAction(t *testing.T) {
	accounts := &mockAccountFinder{account: &model.Account{ID: 5, UserID: 1}}
	handler := VPSActionHandler(accounts, &mockResolver{})

	req := authed(httptest.NewRequest(http.MethodPost, "/vps",
		strings.NewReader(`{"accountId":5,"action":"reboot"}`)), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestVPSOverviewHandler_Success(t *testing.T) {
	resolver := &mockResolver{overview: &placement.Overview{
		Placements: []model.Placement{{ID: 1, ContainerID: "vps-a", MaxAccounts: 100}},
		Summary:    placement.OverviewSummary{TotalContainers: 1, TotalCapacity: 100},
	}}
	handler := VPSOverviewHandler(resolver)

	req := authed(httptest.NewRequest(http.MethodGet, "/vps", nil), 1)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	assert.Contains(t, rr.Body.String(), `"total_containers":1`)
}
