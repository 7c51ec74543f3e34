package params

const (
	// ParamsKeyLedgerConfig stores the process-wide ledger configuration.
	ParamsKeyLedgerConfig = "ledger/config"
)
