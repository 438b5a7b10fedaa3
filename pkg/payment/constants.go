package payment

const (
	operationDescribe = "describe"
	operationBuild    = "build"
	operationLookup   = "lookup"
	operationList     = "list"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// LamportDecimals is the number of decimal places between SOL and lamports.
	LamportDecimals = 9

	// MaxOrderReferences caps the references returned for one order.
	MaxOrderReferences = 50

	// MaxReferenceSeedLength is the longest order id used verbatim as a reference seed.
	MaxReferenceSeedLength = 32

	defaultLabelPrefix = "Campus Market"
	defaultIconURL     = "https://exiled-bot.vercel.app/logo.png"

	// DefaultMerchantAccount is the documented placeholder used when no merchant is configured.
	DefaultMerchantAccount = "8FBgLBFxJcm7Rre75C1fmA6TyqFRpnRqzucktLJBvC82"
)
