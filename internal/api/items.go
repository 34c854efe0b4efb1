package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/insightdelivered/payment-reconciler/internal/ledger"
	"github.com/insightdelivered/payment-reconciler/internal/models"
	"github.com/insightdelivered/payment-reconciler/internal/refcode"
)

// ItemStore is the billing feed behind the item endpoints.
type ItemStore interface {
	ledger.Source
	Add(ctx context.Context, item *models.OutstandingItem) error
	ListByPeriod(ctx context.Context, period string) ([]models.OutstandingItem, error)
}

// ItemsResponse is the JSON response of the item endpoints.
type ItemsResponse struct {
	Success  bool                     `json:"success"`
	Error    string                   `json:"error,omitempty"`
	Items    []models.OutstandingItem `json:"items,omitempty"`
	Invoices []models.VirtualInvoice  `json:"invoices,omitempty"`
}

func (h *Handler) handleAddItem(c *fiber.Ctx) error {
	var item models.OutstandingItem
	if err := c.BodyParser(&item); err != nil {
		return itemsError(c, fiber.StatusBadRequest, "Invalid item: "+err.Error())
	}
	if err := validateItem(&item); err != nil {
		return itemsError(c, fiber.StatusBadRequest, err.Error())
	}
	// settlements are recorded by reconciliation runs only
	item.Paid, item.TID, item.Source = false, "", ""

	if err := h.Items.Add(c.UserContext(), &item); err != nil {
		h.Log.Error().Err(err).Str("payer", item.Payer).Msg("Failed to add item")
		return itemsError(c, fiber.StatusInternalServerError, "Failed to store item.")
	}

	return c.Status(fiber.StatusCreated).JSON(ItemsResponse{
		Success: true,
		Items:   []models.OutstandingItem{item},
	})
}

func (h *Handler) handleListItems(c *fiber.Ctx) error {
	items, err := h.Items.ListByPeriod(c.UserContext(), c.Params("period"))
	if err != nil {
		h.Log.Error().Err(err).Msg("Failed to list items")
		return itemsError(c, fiber.StatusInternalServerError, "Failed to list items.")
	}
	if items == nil {
		items = []models.OutstandingItem{}
	}
	return c.JSON(ItemsResponse{Success: true, Items: items})
}

// handleListInvoices shows the virtual invoices a run of the period would
// match against.
func (h *Handler) handleListInvoices(c *fiber.Ctx) error {
	idx, err := ledger.Build(c.UserContext(), h.Items, c.Params("period"))
	if err != nil {
		return itemsError(c, statusFor(err), err.Error())
	}
	return c.JSON(ItemsResponse{Success: true, Invoices: idx.Invoices()})
}

func validateItem(item *models.OutstandingItem) error {
	item.Payer = strings.TrimSpace(item.Payer)
	item.Period = strings.TrimSpace(item.Period)
	item.Code = strings.ToLower(strings.TrimSpace(item.Code))
	switch {
	case item.Payer == "":
		return errors.New("payer is required")
	case item.Period == "":
		return errors.New("period is required")
	case !item.Amount.IsPositive():
		return errors.New("amount must be positive")
	case item.Code != "" && !refcode.Valid(item.Code):
		return errors.New("code must be 'q' followed by 10 hex digits")
	}
	return nil
}

func itemsError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(ItemsResponse{Error: msg})
}
