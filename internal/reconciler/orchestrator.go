package reconciler

import (
	"context"
	"sync"
	"time"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/internal/parsers"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"
)

// Importer is the part of the storage layer an import needs.
type Importer interface {
	ImportBills(ctx context.Context, bills []models.BillInput) (int, error)
	ImportPayments(ctx context.Context, payments []models.PaymentInput) (int, error)
}

// ImportOrchestrator coordinates loading the two CSV exports into the store:
// parse both files, preprocess the rows, then store them. Progress is
// reported to registered callbacks after every step.
type ImportOrchestrator struct {
	importer     Importer
	preprocessor *DataPreprocessor
	logger       logger.Logger

	progressCallbacks []ProgressCallback
	currentProgress   *ImportProgress
	progressMutex     sync.RWMutex
}

const importSteps = 4

// ImportProgress tracks the progress of an import
type ImportProgress struct {
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`

	BillsParsed    int `json:"bills_parsed"`
	PaymentsParsed int `json:"payments_parsed"`

	Warnings []string `json:"warnings,omitempty"`
}

// ProgressCallback is called to report import progress
type ProgressCallback func(*ImportProgress)

// ImportRequest names the files of one import. Either file may be empty,
// but not both. Nil configs use the parser defaults.
type ImportRequest struct {
	BillFile      string                       `json:"bill_file,omitempty"`
	PaymentFile   string                       `json:"payment_file,omitempty"`
	BillConfig    *parsers.BillParserConfig    `json:"-"`
	PaymentConfig *parsers.PaymentParserConfig `json:"-"`
}

// ImportResult reports what an import parsed and stored.
type ImportResult struct {
	BillStats    *parsers.ParseStats `json:"bill_stats,omitempty"`
	PaymentStats *parsers.ParseStats `json:"payment_stats,omitempty"`

	BillPreprocessing    *PreprocessingStats `json:"bill_preprocessing,omitempty"`
	PaymentPreprocessing *PreprocessingStats `json:"payment_preprocessing,omitempty"`

	BillsStored    int           `json:"bills_stored"`
	PaymentsStored int           `json:"payments_stored"`
	Duration       time.Duration `json:"duration"`
}

// NewImportOrchestrator creates an orchestrator storing into importer.
// A nil preprocessing config uses DefaultPreprocessingConfig.
func NewImportOrchestrator(importer Importer, preprocessingConfig *PreprocessingConfig, log logger.Logger) (*ImportOrchestrator, error) {
	if importer == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "importer", nil, nil).
			WithSuggestion("Provide an opened ledger store")
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &ImportOrchestrator{
		importer:        importer,
		preprocessor:    NewDataPreprocessor(preprocessingConfig),
		logger:          log.WithComponent("import_orchestrator"),
		currentProgress: &ImportProgress{TotalSteps: importSteps},
	}, nil
}

// AddProgressCallback adds a progress callback function
func (im *ImportOrchestrator) AddProgressCallback(callback ProgressCallback) {
	im.progressCallbacks = append(im.progressCallbacks, callback)
}

// Progress returns a copy of the current progress.
func (im *ImportOrchestrator) Progress() ImportProgress {
	im.progressMutex.RLock()
	defer im.progressMutex.RUnlock()

	p := *im.currentProgress
	p.Warnings = append([]string(nil), im.currentProgress.Warnings...)
	return p
}

// Import parses, preprocesses and stores the files named by request. Bills
// and payments are stored in separate transactions: when the payment file
// fails to store, the bills already stored stay.
func (im *ImportOrchestrator) Import(ctx context.Context, request *ImportRequest) (*ImportResult, error) {
	if err := validateImportRequest(request); err != nil {
		return nil, err
	}

	im.initializeProgress()
	op := logger.NewOperationLogger("import", im.logger).
		WithField("bill_file", request.BillFile).
		WithField("payment_file", request.PaymentFile)

	result := &ImportResult{}
	defer func() {
		result.Duration = op.Elapsed()
	}()

	im.updateProgress("Parsing files", 0)
	parsed := parsers.ParseLedgerFiles(ctx, parsers.LedgerFiles{
		BillFile:      request.BillFile,
		PaymentFile:   request.PaymentFile,
		BillConfig:    request.BillConfig,
		PaymentConfig: request.PaymentConfig,
	})
	if err := parsed.Err(); err != nil {
		op.Error(err, "Parsing failed")
		return nil, err
	}
	result.BillStats, result.PaymentStats = parsed.BillStats, parsed.PaymentStats
	im.recordParsed(parsed)

	im.updateProgress("Preprocessing rows", 1)
	bills, billPre := im.preprocessor.PreprocessBills(request.BillFile, parsed.Bills)
	payments, paymentPre := im.preprocessor.PreprocessPayments(request.PaymentFile, parsed.Payments)
	if request.BillFile != "" {
		result.BillPreprocessing = billPre
	}
	if request.PaymentFile != "" {
		result.PaymentPreprocessing = paymentPre
	}
	if dropped := billPre.Dropped() + paymentPre.Dropped(); dropped > 0 {
		im.addWarning("rows dropped during preprocessing")
		op.Warning("Rows dropped during preprocessing", logger.Fields{
			"bills":    billPre.Dropped(),
			"payments": paymentPre.Dropped(),
		})
	}

	im.updateProgress("Storing bills", 2)
	if len(bills) > 0 {
		n, err := im.importer.ImportBills(ctx, bills)
		if err != nil {
			op.Error(err, "Storing bills failed")
			return nil, err
		}
		result.BillsStored = n
	}

	im.updateProgress("Storing payments", 3)
	if len(payments) > 0 {
		n, err := im.importer.ImportPayments(ctx, payments)
		if err != nil {
			op.Error(err, "Storing payments failed")
			return nil, err
		}
		result.PaymentsStored = n
	}

	im.updateProgress("Completed", importSteps)
	op.Success("Import completed", logger.Fields{
		"bills_stored":    result.BillsStored,
		"payments_stored": result.PaymentsStored,
	})
	return result, nil
}

func validateImportRequest(request *ImportRequest) error {
	if request == nil || (request.BillFile == "" && request.PaymentFile == "") {
		return errors.ValidationError(errors.CodeMissingField, "files", nil, nil).
			WithSuggestion("Provide a bill file, a payment file, or both")
	}
	if request.BillConfig != nil {
		if err := request.BillConfig.Validate(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "bill_parser", request.BillConfig, err)
		}
	}
	if request.PaymentConfig != nil {
		if err := request.PaymentConfig.Validate(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "payment_parser", request.PaymentConfig, err)
		}
	}
	return nil
}

func (im *ImportOrchestrator) initializeProgress() {
	im.progressMutex.Lock()
	defer im.progressMutex.Unlock()

	im.currentProgress = &ImportProgress{
		TotalSteps: importSteps,
		StartTime:  time.Now(),
	}
}

func (im *ImportOrchestrator) recordParsed(parsed *parsers.LedgerParseResult) {
	im.progressMutex.Lock()
	im.currentProgress.BillsParsed = len(parsed.Bills)
	im.currentProgress.PaymentsParsed = len(parsed.Payments)
	im.progressMutex.Unlock()
}

func (im *ImportOrchestrator) updateProgress(step string, completed int) {
	im.progressMutex.Lock()
	im.currentProgress.CurrentStep = step
	im.currentProgress.CompletedSteps = completed
	im.currentProgress.PercentComplete = float64(completed) / float64(im.currentProgress.TotalSteps) * 100
	im.currentProgress.ElapsedTime = time.Since(im.currentProgress.StartTime)
	snapshot := *im.currentProgress
	im.progressMutex.Unlock()

	for _, callback := range im.progressCallbacks {
		callback(&snapshot)
	}
}

func (im *ImportOrchestrator) addWarning(message string) {
	im.progressMutex.Lock()
	defer im.progressMutex.Unlock()
	im.currentProgress.Warnings = append(im.currentProgress.Warnings, message)
}
