package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"

	"billing/internal/core"
	"billing/internal/currency"
	"billing/internal/services"
)

func (s *Server) handleComputeLineItems(w http.ResponseWriter, r *http.Request) {
	money, err := s.money(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := &computeRequest{}
	if err := render.Bind(r, req); err != nil {
		writeBindError(w, r, err)
		return
	}
	batch := s.billing.ComputeLineItems(toServiceInputs(req.Items))
	render.JSON(w, r, newComputeResponse(batch, money, req.Currency))
}

// handleBilling returns the aggregate for ?start=YYYY-MM-DD&end=YYYY-MM-DD.
func (s *Server) handleBilling(w http.ResponseWriter, r *http.Request) {
	money, err := s.money(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	period, err := parsePeriod(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := s.billing.Preview(r.Context(), chi.URLParam(r, "clientID"), period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, newBillingResponse(data, money))
}

func (s *Server) handleDraftLineItems(w http.ResponseWriter, r *http.Request) {
	money, err := s.money(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := &draftRequest{}
	if err := render.Bind(r, req); err != nil {
		writeBindError(w, r, err)
		return
	}
	clientID := chi.URLParam(r, "clientID")
	draft, err := s.billing.DraftLineItems(r.Context(), clientID, req.period, req.selection(), req.TaxRate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, draftResponse{
		ClientID: clientID,
		Currency: draft.Data.Currency,
		Period:   newPeriodResponse(draft.Data.Period),
		Lines:    newLineItemResponses(draft.Lines),
		Totals:   newTotalsResponse(draft.Totals, money, draft.Data.Currency),
	})
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	money, err := s.money(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := &createInvoiceRequest{}
	if err := render.Bind(r, req); err != nil {
		writeBindError(w, r, err)
		return
	}
	inv, err := s.billing.CreateInvoice(r.Context(), services.CreateInvoiceRequest{
		ClientID:   chi.URLParam(r, "clientID"),
		Period:     req.period,
		Selection:  req.selection(),
		TaxRate:    req.TaxRate,
		ExtraLines: toServiceInputs(req.ExtraLines),
		IssueDate:  req.issue,
		DueDate:    req.due,
		Notes:      req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.metrics.invoicesCreated.Add(1)
	if s.invoices != nil {
		s.invoices.Set(inv.ID, inv)
	}
	w.Header().Set("Location", "/api/invoices/"+inv.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newInvoiceResponse(inv, money))
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	money, err := s.money(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invoices, err := s.billing.ListInvoices(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, newInvoiceResponse(inv, money))
	}
	render.JSON(w, r, out)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	money, err := s.money(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "invoiceID")
	inv, err := s.getInvoice(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, newInvoiceResponse(inv, money))
}

// getInvoice serves from the invoice cache when enabled. Invoices do not
// change after creation.
func (s *Server) getInvoice(r *http.Request, id string) (core.Invoice, error) {
	if s.invoices != nil {
		if inv, ok := s.invoices.Get(id); ok {
			s.metrics.cacheHits.Add(1)
			return inv, nil
		}
		s.metrics.cacheMisses.Add(1)
	}
	inv, err := s.billing.GetInvoice(r.Context(), id)
	if err != nil {
		return core.Invoice{}, err
	}
	if s.invoices != nil {
		s.invoices.Set(id, inv)
	}
	return inv, nil
}

// money returns the amount formatter for r. ?locale= overrides the server
// default.
func (s *Server) money(r *http.Request) (moneyFormat, error) {
	if s.formatter == nil {
		return nil, nil
	}
	locale := r.URL.Query().Get("locale")
	if locale == "" {
		return s.formatter.Format, nil
	}
	if _, err := currency.ParseLocale(locale); err != nil {
		return nil, core.NewInvalidFormat("locale", err, &locale)
	}
	return func(amount decimal.Decimal, code string) (string, error) {
		return s.formatter.FormatIn(locale, amount, code)
	}, nil
}
