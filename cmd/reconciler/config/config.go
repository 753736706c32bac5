package config

import (
	"fmt"
	"strings"

	"ledger-matching-service/internal/api"
	"ledger-matching-service/internal/matcher"
	"ledger-matching-service/internal/parsers"
	"ledger-matching-service/internal/reconciler"
	"ledger-matching-service/internal/reporter"
	"ledger-matching-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Configuration keys shared by flags, environment variables and config files.
const (
	KeyDatabase     = "database"
	KeyVerbose      = "verbose"
	KeyLogLevel     = "log-level"
	KeyLogFormat    = "log-format"
	KeyLogFile      = "log-file"
	KeyOutputFormat = "output-format"
	KeyOutputFile   = "output-file"

	KeyStrictTolerance      = "strict.tolerance"
	KeyStrictMaxCombination = "strict.max-combination"
	KeyLooseTolerance       = "loose.tolerance"
	KeyLooseMaxCombination  = "loose.max-combination"
	KeySearchWarnThreshold  = "search-warn-threshold"

	KeyEncoding          = "import.encoding"
	KeyRejectNonPositive = "import.reject-non-positive"
	KeyRemoveDuplicates  = "import.remove-duplicates"

	KeyBillNameColumn      = "bills.name-column"
	KeyBillAmountColumns   = "bills.amount-columns"
	KeyPaymentPayerColumn  = "payments.payer-column"
	KeyPaymentRawColumn    = "payments.raw-name-column"
	KeyPaymentAmountColumn = "payments.amount-column"

	KeyServerPort           = "server.port"
	KeyServerAllowedOrigins = "server.allowed-origins"
	KeyServerMaxUploadBytes = "server.max-upload-bytes"
)

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	strict := matcher.StrictMatchingConfig()
	loose := matcher.LooseMatchingConfig()
	server := api.DefaultConfig()

	v.SetDefault(KeyDatabase, "ledger.db")
	v.SetDefault(KeyLogLevel, string(logger.InfoLevel))
	v.SetDefault(KeyLogFormat, string(logger.TextFormat))
	v.SetDefault(KeyOutputFormat, string(reporter.FormatConsole))

	v.SetDefault(KeyStrictTolerance, strict.Tolerance.String())
	v.SetDefault(KeyStrictMaxCombination, strict.MaxCombinationSize)
	v.SetDefault(KeyLooseTolerance, loose.Tolerance.String())
	v.SetDefault(KeyLooseMaxCombination, loose.MaxCombinationSize)
	v.SetDefault(KeySearchWarnThreshold, matcher.DefaultSearchSpaceWarnThreshold)

	v.SetDefault(KeyEncoding, string(parsers.EncodingUTF8))
	v.SetDefault(KeyBillNameColumn, parsers.DefaultBillNameColumn)
	v.SetDefault(KeyBillAmountColumns, []string{parsers.DefaultBillAmountColumn, parsers.DefaultBillAmountColumnLegacy})
	v.SetDefault(KeyPaymentPayerColumn, parsers.DefaultPaymentPayerColumn)
	v.SetDefault(KeyPaymentRawColumn, parsers.DefaultPaymentRawNameColumn)
	v.SetDefault(KeyPaymentAmountColumn, parsers.DefaultPaymentAmountColumn)

	v.SetDefault(KeyServerPort, server.Port)
	v.SetDefault(KeyServerAllowedOrigins, server.AllowedOrigins)
	v.SetDefault(KeyServerMaxUploadBytes, server.MaxUploadBytes)
}

// CreateReconcilerConfig builds the strict and loose pass configurations.
func CreateReconcilerConfig(v *viper.Viper) (*reconciler.Config, error) {
	strict, err := createMatchingConfig(v, matcher.ModeStrict, KeyStrictTolerance, KeyStrictMaxCombination)
	if err != nil {
		return nil, err
	}
	loose, err := createMatchingConfig(v, matcher.ModeLoose, KeyLooseTolerance, KeyLooseMaxCombination)
	if err != nil {
		return nil, err
	}

	config := &reconciler.Config{Strict: strict, Loose: loose}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// createMatchingConfig starts from the preset of mode and applies the
// tolerance and combination overrides. The mode keeps naming the pass.
func createMatchingConfig(v *viper.Viper, mode matcher.Mode, toleranceKey, maxKey string) (*matcher.MatchingConfig, error) {
	base, err := matcher.ConfigForMode(string(mode))
	if err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(v.GetString(toleranceKey)); raw != "" {
		tolerance, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid amount %q: %w", toleranceKey, raw, err)
		}
		base.Tolerance = tolerance
	}
	if v.IsSet(maxKey) {
		base.MaxCombinationSize = v.GetInt(maxKey)
	}
	if v.IsSet(KeySearchWarnThreshold) {
		base.SearchSpaceWarnThreshold = v.GetFloat64(KeySearchWarnThreshold)
	}
	return base, nil
}

// CreateParserConfigs builds the bill and payment CSV layouts. A non-empty
// encoding overrides the configured one for both files.
func CreateParserConfigs(v *viper.Viper, encoding string) (*parsers.BillParserConfig, *parsers.PaymentParserConfig, error) {
	if encoding == "" {
		encoding = v.GetString(KeyEncoding)
	}
	enc, err := parsers.ParseEncoding(encoding)
	if err != nil {
		return nil, nil, err
	}

	bills := parsers.DefaultBillParserConfig()
	bills.Encoding = enc
	if name := v.GetString(KeyBillNameColumn); name != "" {
		bills.NameColumn = name
	}
	if amounts := v.GetStringSlice(KeyBillAmountColumns); len(amounts) > 0 {
		bills.AmountColumns = amounts
	}
	if err := bills.Validate(); err != nil {
		return nil, nil, fmt.Errorf("bills: %w", err)
	}

	payments := parsers.DefaultPaymentParserConfig()
	payments.Encoding = enc
	if payer := v.GetString(KeyPaymentPayerColumn); payer != "" {
		payments.PayerColumn = payer
	}
	if v.IsSet(KeyPaymentRawColumn) {
		payments.RawNameColumn = v.GetString(KeyPaymentRawColumn)
	}
	if amount := v.GetString(KeyPaymentAmountColumn); amount != "" {
		payments.AmountColumn = amount
	}
	if err := payments.Validate(); err != nil {
		return nil, nil, fmt.Errorf("payments: %w", err)
	}

	return bills, payments, nil
}

// CreatePreprocessingConfig builds the import preprocessing options.
func CreatePreprocessingConfig(v *viper.Viper) *reconciler.PreprocessingConfig {
	config := reconciler.DefaultPreprocessingConfig()
	config.RejectNonPositive = v.GetBool(KeyRejectNonPositive)
	config.RemoveDuplicates = v.GetBool(KeyRemoveDuplicates)
	return config
}

// CreateReportConfig creates a report configuration for the configured output format
func CreateReportConfig(v *viper.Viper) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	format := reporter.OutputFormat(strings.ToLower(v.GetString(KeyOutputFormat)))

	switch format {
	case reporter.FormatConsole:
		config.Format = reporter.FormatConsole
		config.IncludeEngineStats = v.GetBool(KeyVerbose)
	case reporter.FormatJSON:
		config.Format = reporter.FormatJSON
		config.IncludeEngineStats = true
	case reporter.FormatCSV:
		config.Format = reporter.FormatCSV
		config.IncludeEdgeCases = false
	default:
		return nil, fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", format)
	}

	return config, config.Validate()
}

// CreateServerConfig builds the HTTP server configuration.
func CreateServerConfig(v *viper.Viper) (*api.Config, error) {
	config := api.DefaultConfig()
	config.Port = v.GetInt(KeyServerPort)
	if origins := v.GetStringSlice(KeyServerAllowedOrigins); len(origins) > 0 {
		config.AllowedOrigins = origins
	}
	config.MaxUploadBytes = v.GetInt64(KeyServerMaxUploadBytes)

	bills, payments, err := CreateParserConfigs(v, "")
	if err != nil {
		return nil, err
	}
	config.BillParser = bills
	config.PaymentParser = payments
	config.Preprocessing = CreatePreprocessingConfig(v)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateLoggerConfig builds the logger configuration. Verbose forces debug
// and a log file replaces stderr.
func CreateLoggerConfig(v *viper.Viper) (*logger.Config, error) {
	config := logger.DefaultConfig()
	config.Level = logger.Level(strings.ToLower(v.GetString(KeyLogLevel)))
	config.Format = logger.Format(strings.ToLower(v.GetString(KeyLogFormat)))
	if v.GetBool(KeyVerbose) {
		config.Level = logger.DebugLevel
	}
	if file := strings.TrimSpace(v.GetString(KeyLogFile)); file != "" {
		config.Output = logger.FileOutput
		config.File = file
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
