package api

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/budgetgate/internal/document"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
)

// POST /api/accounts
func (s *Server) createAccount(c *fiber.Ctx) error {
	var body CreateAccountRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}

	account, err := s.services.Registry.Create(c.UserContext(), body.Code, body.Name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toAccount(account))
}

// GET /api/accounts?active=true
func (s *Server) listAccounts(c *fiber.Ctx) error {
	accounts, err := s.services.Registry.List(c.UserContext(), c.QueryBool("active", false))
	if err != nil {
		return err
	}

	resp := make([]Account, 0, len(accounts))
	for i := range accounts {
		resp = append(resp, toAccount(&accounts[i]))
	}
	return c.JSON(resp)
}

// GET /api/accounts/:id
func (s *Server) getAccount(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	account, err := s.services.Registry.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(toAccount(account))
}

// POST /api/accounts/:id/deactivate
func (s *Server) deactivateAccount(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	account, err := s.services.Registry.Deactivate(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(toAccount(account))
}

// POST /api/accounts/:id/activate
func (s *Server) activateAccount(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	account, err := s.services.Registry.Activate(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(toAccount(account))
}

// POST /api/budgets
func (s *Server) createBudget(c *fiber.Ctx) error {
	var body CreateBudgetRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}

	from, err := parseDate("dateFrom", body.DateFrom)
	if err != nil {
		return err
	}
	to, err := parseDate("dateTo", body.DateTo)
	if err != nil {
		return err
	}

	lines := make([]model.BudgetLine, 0, len(body.Lines))
	for _, line := range body.Lines {
		lines = append(lines, fromBudgetLine(line))
	}

	created, err := s.services.Budgets.Create(c.UserContext(), body.Name, from, to, lines)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toBudget(created))
}

// GET /api/budgets?status=CONFIRMED&limit=20&offset=0
func (s *Server) listBudgets(c *fiber.Ctx) error {
	filter := service.BudgetFilter{
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		status := model.BudgetStatus(raw)
		if !status.Valid() {
			return badRequest("unknown budget status %q", raw)
		}
		filter.Status = &status
	}

	budgets, err := s.services.Budgets.List(c.UserContext(), filter)
	if err != nil {
		return err
	}

	resp := make([]Budget, 0, len(budgets))
	for i := range budgets {
		resp = append(resp, toBudget(&budgets[i]))
	}
	return c.JSON(resp)
}

// GET /api/budgets/:id
func (s *Server) getBudget(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	b, err := s.services.Budgets.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(toBudget(b))
}

// POST /api/budgets/:id/lines
func (s *Server) addBudgetLine(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var body LineRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}

	b, err := s.services.Budgets.AddLine(c.UserContext(), id, body.Version, fromBudgetLine(body.Line))
	if err != nil {
		return err
	}
	return c.JSON(toBudget(b))
}

// PUT /api/budgets/:id/lines/:lineId
func (s *Server) updateBudgetLine(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	lineID, err := paramID(c, "lineId")
	if err != nil {
		return err
	}
	var body LineRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}

	line := fromBudgetLine(body.Line)
	line.ID = lineID
	b, err := s.services.Budgets.UpdateLine(c.UserContext(), id, body.Version, line)
	if err != nil {
		return err
	}
	return c.JSON(toBudget(b))
}

// DELETE /api/budgets/:id/lines/:lineId?version=3
func (s *Server) deleteBudgetLine(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	lineID, err := paramID(c, "lineId")
	if err != nil {
		return err
	}

	b, err := s.services.Budgets.DeleteLine(c.UserContext(), id, c.QueryInt("version", 0), lineID)
	if err != nil {
		return err
	}
	return c.JSON(toBudget(b))
}

type transitionFunc func(ctx context.Context, id int64, version int) (*model.Budget, error)

// POST /api/budgets/:id/{confirm,validate,done,cancel}
func (s *Server) transition(fn transitionFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		var body VersionRequest
		if err := parseOptionalBody(c, &body); err != nil {
			return err
		}

		b, err := fn(c.UserContext(), id, body.Version)
		if err != nil {
			return err
		}
		return c.JSON(toBudget(b))
	}
}

// POST /api/budgets/:id/revise
func (s *Server) reviseBudget(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var body VersionRequest
	if err := parseOptionalBody(c, &body); err != nil {
		return err
	}

	revision, err := s.services.Budgets.Revise(c.UserContext(), id, body.Version)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toBudget(revision))
}

// POST /api/budgets/:id/metrics/compute
func (s *Server) computeMetrics(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	snapshot, err := s.services.Metrics.Compute(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(toMetrics(snapshot))
}

// GET /api/budgets/:id/metrics
func (s *Server) getMetrics(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	snapshot, err := s.services.Metrics.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(toMetrics(snapshot))
}

// POST /api/validation/preview
func (s *Server) preview(c *fiber.Ctx) error {
	var body PreviewRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	date, err := parseDate("date", body.Date)
	if err != nil {
		return err
	}

	var original map[int64]decimal.Decimal
	switch {
	case body.EditingDocumentID != "":
		doc, err := s.services.Documents.Get(c.UserContext(), body.EditingDocumentID)
		if err != nil {
			return err
		}
		original = document.ExpensesByAccount(doc)
	case len(body.OriginalExpenses) > 0:
		original = make(map[int64]decimal.Decimal, len(body.OriginalExpenses))
		for _, expense := range body.OriginalExpenses {
			original[expense.AccountID] = original[expense.AccountID].Add(expense.Amount)
		}
	}

	lines := make([]model.CandidateLine, 0, len(body.Lines))
	for _, line := range body.Lines {
		lines = append(lines, model.CandidateLine{
			ProductName: line.ProductName,
			AccountID:   line.AccountID,
			Amount:      line.Amount,
		})
	}

	warnings := s.services.Validator.Preview(c.UserContext(), lines, date, original)
	return c.JSON(PreviewResponse{
		Policy:   string(s.services.Validator.Policy()),
		Warnings: toWarnings(warnings),
	})
}

// POST /api/documents
func (s *Server) commitDocument(c *fiber.Ctx) error {
	var body CommitDocumentRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	date, err := parseDate("date", body.Date)
	if err != nil {
		return err
	}

	req := document.CommitRequest{
		Date:    date,
		Kind:    body.Kind,
		Number:  body.Number,
		Partner: body.Partner,
		Lines:   make([]model.DocumentLine, 0, len(body.Lines)),
	}
	for _, line := range body.Lines {
		req.Lines = append(req.Lines, model.DocumentLine{
			ProductName: line.ProductName,
			Amount:      line.Amount,
			AccountID:   line.AccountID,
		})
	}

	doc, err := s.services.Documents.Commit(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toDocument(doc))
}

// GET /api/documents/:id
func (s *Server) getDocument(c *fiber.Ctx) error {
	doc, err := s.services.Documents.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toDocument(doc))
}

// GET /api/documents/:id/conflicts
func (s *Server) listConflicts(c *fiber.Ctx) error {
	conflicts, err := s.services.Conflicts.ListConflicts(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toConflicts(conflicts))
}

// POST /api/suggestions
func (s *Server) ingestSuggestions(c *fiber.Ctx) error {
	var body IngestRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}

	batch := make([]model.CategorySuggestion, 0, len(body.Suggestions))
	for _, suggestion := range body.Suggestions {
		batch = append(batch, model.CategorySuggestion{
			BillLineID:     suggestion.BillLineID,
			AccountID:      suggestion.AccountID,
			Confidence:     suggestion.Confidence,
			ParametersUsed: suggestion.ParametersUsed,
		})
	}

	stored, err := s.services.Conflicts.Ingest(c.UserContext(), batch)
	if err != nil {
		return err
	}

	resp := IngestResponse{Suggestions: make([]Suggestion, 0, len(stored))}
	for i := range stored {
		resp.Suggestions = append(resp.Suggestions, toSuggestion(&stored[i]))
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// POST /api/suggestions/:id/resolve
func (s *Server) resolveSuggestion(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	resolution, err := s.services.Conflicts.Resolve(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(toResolution(resolution))
}

// POST /api/ledger-entries
func (s *Server) recordLedgerEntries(c *fiber.Ctx) error {
	var body RecordLedgerRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	entries, err := fromLedgerEntries(body.Entries)
	if err != nil {
		return err
	}

	inserted, err := s.services.Ledger.Record(c.UserContext(), entries)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(RecordLedgerResponse{
		Received: len(entries),
		Inserted: inserted,
	})
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func parseOptionalBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return parseBody(c, out)
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, c.Params(name))
	}
	return id, nil
}
