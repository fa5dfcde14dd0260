package service

import (
	"context"
	"errors"
	"strings"

	"tokoledger/backend/internal/domain"
)

// SyncOfflineSales replays sales queued by a disconnected register. The
// client sale id becomes the offline id, so replaying an envelope is safe.
// One rejected sale never affects the others.
func (s *Service) SyncOfflineSales(ctx context.Context, cmd domain.OfflineSyncCommand) (domain.OfflineSyncResult, error) {
	if err := requireBusiness(cmd.BusinessID); err != nil {
		return domain.OfflineSyncResult{}, err
	}
	resp := domain.OfflineSyncResult{
		EnvelopeID: cmd.EnvelopeID,
		Statuses:   make([]domain.OfflineSyncStatus, 0, len(cmd.Sales)),
	}

	for _, queued := range cmd.Sales {
		saleCmd := queued.Sale
		saleCmd.BusinessID = cmd.BusinessID
		saleCmd.UserID = cmd.UserID
		if saleCmd.BranchID == "" {
			saleCmd.BranchID = cmd.BranchID
		}
		if strings.TrimSpace(saleCmd.OfflineID) == "" {
			saleCmd.OfflineID = queued.ClientSaleID
		}

		status := domain.OfflineSyncStatus{ClientSaleID: queued.ClientSaleID}
		if strings.TrimSpace(saleCmd.OfflineID) == "" {
			status.Status = domain.OfflineStatusRejected
			status.Reason = "client_sale_id is required"
			resp.Statuses = append(resp.Statuses, status)
			continue
		}

		sale, err := s.CreateSale(ctx, saleCmd)
		switch {
		case err == nil:
			status.Status = domain.OfflineStatusAccepted
			status.SaleID = sale.ID
		case errors.Is(err, domain.ErrConflict):
			status.Status = domain.OfflineStatusDuplicate
			status.SaleID = domain.ConflictID(err)
		default:
			status.Status = domain.OfflineStatusRejected
			status.Reason = publicReason(err)
			s.log.Warn().Err(err).Str("client_sale_id", queued.ClientSaleID).Msg("offline sale rejected")
		}
		resp.Statuses = append(resp.Statuses, status)
	}
	return resp, nil
}

// publicReason hides internal error details from clients.
func publicReason(err error) string {
	var de *domain.Error
	if errors.As(err, &de) && de.Kind != domain.KindInternal && de.Msg != "" {
		return de.Msg
	}
	return "internal error"
}
