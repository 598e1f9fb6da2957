package exchange

// Known quote currencies for pair splitting
var quotes = []string{
	"USDT",
	"BTC",
	"BNB",
	"ETH",
	"BUSD",
	"USDC",
	"EUR",
	"TRY",
	"AUD",
	"BRL",
	"GBP",
	"USD",
	"NGN",
}

// SplitAssetQuote splits a trading pair into base asset and quote asset
func SplitAssetQuote(pair string) (asset, quote string) {
	for i := len(pair) - 1; i >= 0; i-- {
		for _, q := range quotes {
			if i >= len(q)-1 && pair[i-len(q)+1:i+1] == q {
				return pair[:i-len(q)+1], pair[i-len(q)+1:]
			}
		}
	}
	return pair[:len(pair)/2], pair[len(pair)/2:]
}
