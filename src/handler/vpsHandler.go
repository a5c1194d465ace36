package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"tradecopier/src/auth"
	"tradecopier/src/model"
	"tradecopier/src/placement"
)

type placementResolver interface {
	Deploy(ctx context.Context, account *model.Account) (*model.Placement, error)
	Stop(ctx context.Context, account *model.Account) error
	Restart(ctx context.Context, account *model.Account) (*model.Placement, error)
	Status(ctx context.Context, account *model.Account) (*placement.StatusReport, error)
	FleetOverview(ctx context.Context, userID uint) (*placement.Overview, error)
}

// VPSActionRequest is the body of POST /api/vps.
type VPSActionRequest struct {
	AccountID uint   `json:"accountId"`
	Action    string `json:"action"`
}

type vpsActionResponse struct {
	Success   bool                    `json:"success"`
	Message   string                  `json:"message,omitempty"`
	Container *model.Placement        `json:"container,omitempty"`
	Status    *placement.StatusReport `json:"status,omitempty"`
}

// VPSActionHandler runs a deployment action (deploy, stop, restart, status)
// against one of the authenticated user's accounts.
func VPSActionHandler(accounts accountFinder, resolver placementResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req VPSActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.AccountID == 0 || req.Action == "" {
			http.Error(w, "accountId and action are required", http.StatusBadRequest)
			return
		}

		account, err := accounts.FindByIDForUser(r.Context(), req.AccountID, user.ID)
		if err != nil {
			logger.WithError(err).Error("failed to resolve vps account")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if account == nil {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}

		var response vpsActionResponse
		switch req.Action {
		case "deploy":
			container, err := resolver.Deploy(r.Context(), account)
			if err != nil {
				writeVPSError(w, err)
				return
			}
			response = vpsActionResponse{Success: true, Message: "Account deployed", Container: container}

		case "stop":
			if err := resolver.Stop(r.Context(), account); err != nil {
				writeVPSError(w, err)
				return
			}
			response = vpsActionResponse{Success: true, Message: "Account stopped"}

		case "restart":
			container, err := resolver.Restart(r.Context(), account)
			if err != nil {
				writeVPSError(w, err)
				return
			}
			response = vpsActionResponse{Success: true, Message: "Account restarted", Container: container}

		case "status":
			report, err := resolver.Status(r.Context(), account)
			if err != nil {
				writeVPSError(w, err)
				return
			}
			response = vpsActionResponse{Success: true, Status: report}

		default:
			http.Error(w, "action must be deploy, stop, restart or status", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.WithError(err).Error("failed to encode vps action response")
		}
	}
}

func writeVPSError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, placement.ErrNotDeployed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, placement.ErrCapacityContention):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		logger.WithError(err).Error("vps action failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// VPSOverviewHandler returns the container fleet overview for the
// authenticated user.
func VPSOverviewHandler(resolver placementResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		overview, err := resolver.FleetOverview(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).Error("failed to build fleet overview")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(overview); err != nil {
			logger.WithError(err).Error("failed to encode fleet overview")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}
