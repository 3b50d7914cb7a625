package domain

// CreditPack is one purchasable bundle of credits.
type CreditPack struct {
	PriceID     string `json:"priceId"`
	Name        string `json:"name"`
	Credits     int    `json:"credits"`
	AmountCents int    `json:"amountCents"`
}

// CreditPacks is the static catalog per deployment environment.
var CreditPacks = map[string][]CreditPack{
	"development": {
		{PriceID: "price_1SfpfLCEB4zo9bOVAAt2QNDR", Name: "Starter", Credits: 5, AmountCents: 100},
		{PriceID: "price_1SfpfRCEB4zo9bOVMa4vgXm0", Name: "Standard", Credits: 30, AmountCents: 500},
		{PriceID: "price_1SfpfWCEB4zo9bOVkbw21cZB", Name: "Pro", Credits: 60, AmountCents: 1000},
	},
	"production": {
		{PriceID: "price_1SfphOCEB4zo9bOVs9j7gEic", Name: "Starter", Credits: 5, AmountCents: 100},
		{PriceID: "price_1SfphbCEB4zo9bOV7j60Uvq5", Name: "Standard", Credits: 30, AmountCents: 500},
		{PriceID: "price_1SfphnCEB4zo9bOVOL0snXdo", Name: "Pro", Credits: 60, AmountCents: 1000},
	},
	"test": {
		{PriceID: "price_test_starter", Name: "Starter", Credits: 5, AmountCents: 100},
		{PriceID: "price_test_standard", Name: "Standard", Credits: 30, AmountCents: 500},
		{PriceID: "price_test_pro", Name: "Pro", Credits: 60, AmountCents: 1000},
	},
}

// CreditPackByPriceID looks up a pack in the catalog for env.
func CreditPackByPriceID(env, priceID string) (CreditPack, bool) {
	for _, p := range CreditPacks[env] {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return CreditPack{}, false
}
