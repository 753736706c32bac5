package api

import (
	stderrors "errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/internal/parsers"
	"ledger-matching-service/internal/reconciler"
	"ledger-matching-service/pkg/errors"

	"github.com/gin-gonic/gin"
)

// looseRequest is the body of POST /reconcile/loose. A missing or null
// restrict_to reconciles the whole ledger.
type looseRequest struct {
	RestrictTo *models.UnmatchedSet `json:"restrict_to"`
}

// ledgerResponse lists every stored record.
type ledgerResponse struct {
	Bills    []models.LedgerEntry `json:"bills"`
	Payments []models.LedgerEntry `json:"payments"`
}

func (s *Server) reconcileStrict(c *gin.Context) {
	result, err := s.service.ReconcileStrict(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) reconcileLoose(c *gin.Context) {
	var req looseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
		s.respondError(c, errors.ValidationError(errors.CodeInvalidFormat, "body", nil, err).
			WithSuggestion(`Send {"restrict_to": {"bill_ids": [...], "payment_ids": [...]}} or an empty body`))
		return
	}

	result, err := s.service.ReconcileLoose(c.Request.Context(), req.RestrictTo)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getResults(c *gin.Context) {
	rows, err := s.store.ReportRows(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if rows == nil {
		rows = []models.ReportRow{}
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (s *Server) getGroup(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		s.respondError(c, errors.ValidationError(errors.CodeInvalidData, "id", c.Param("id"), err).
			WithSuggestion("Group ids are positive integers"))
		return
	}

	detail, err := s.store.GroupDetail(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"group_id":      detail.GroupID,
		"kind":          detail.Kind,
		"bills":         detail.Bills,
		"payments":      detail.Payments,
		"bill_total":    detail.BillTotal(),
		"payment_total": detail.PaymentTotal(),
	})
}

func (s *Server) getUnmatched(c *gin.Context) {
	var set models.UnmatchedSet
	if err := c.ShouldBindJSON(&set); err != nil {
		s.respondError(c, errors.ValidationError(errors.CodeInvalidFormat, "body", nil, err).
			WithSuggestion(`Send {"bill_ids": [...], "payment_ids": [...]}`))
		return
	}

	detail, err := s.store.UnmatchedDetail(c.Request.Context(), set)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) getLedger(c *gin.Context) {
	ctx := c.Request.Context()

	bills, err := s.store.ListBills(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	payments, err := s.store.ListPayments(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if bills == nil {
		bills = []models.LedgerEntry{}
	}
	if payments == nil {
		payments = []models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, ledgerResponse{Bills: bills, Payments: payments})
}

func (s *Server) clearLedger(c *gin.Context) {
	if err := s.store.ClearLedger(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// importLedger stores the uploaded "bills" and "payments" CSV files. An
// optional "encoding" form value applies to both files.
func (s *Server) importLedger(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)

	billConfig, paymentConfig, err := s.parserConfigs(c.PostForm("encoding"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	dir, err := os.MkdirTemp("", "ledger-import-*")
	if err != nil {
		s.respondError(c, errors.FileError(errors.CodeDirectoryError, os.TempDir(), err))
		return
	}
	defer os.RemoveAll(dir)

	request := &reconciler.ImportRequest{BillConfig: billConfig, PaymentConfig: paymentConfig}
	if request.BillFile, err = saveUpload(c, "bills", dir); err != nil {
		s.respondError(c, err)
		return
	}
	if request.PaymentFile, err = saveUpload(c, "payments", dir); err != nil {
		s.respondError(c, err)
		return
	}

	orchestrator, err := reconciler.NewImportOrchestrator(s.store, s.config.Preprocessing, s.logger)
	if err != nil {
		s.respondError(c, err)
		return
	}

	result, err := orchestrator.Import(c.Request.Context(), request)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) parserConfigs(encoding string) (*parsers.BillParserConfig, *parsers.PaymentParserConfig, error) {
	billConfig := parsers.DefaultBillParserConfig()
	if s.config.BillParser != nil {
		copied := *s.config.BillParser
		billConfig = &copied
	}
	paymentConfig := parsers.DefaultPaymentParserConfig()
	if s.config.PaymentParser != nil {
		copied := *s.config.PaymentParser
		paymentConfig = &copied
	}

	if encoding != "" {
		enc, err := parsers.ParseEncoding(encoding)
		if err != nil {
			return nil, nil, errors.ValidationError(errors.CodeInvalidData, "encoding", encoding, err)
		}
		billConfig.Encoding = enc
		paymentConfig.Encoding = enc
	}
	return billConfig, paymentConfig, nil
}

// saveUpload copies the multipart file field into dir. A missing field
// yields an empty path.
func saveUpload(c *gin.Context, field, dir string) (string, error) {
	header, err := c.FormFile(field)
	if stderrors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", errors.ValidationError(errors.CodeInvalidFormat, field, nil, err).
			WithSuggestion("Upload the files as multipart/form-data")
	}

	path := filepath.Join(dir, field+filepath.Ext(header.Filename))
	if err := c.SaveUploadedFile(header, path); err != nil {
		return "", errors.FileError(errors.CodeFilePermission, path, err)
	}
	return path, nil
}
