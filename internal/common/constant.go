package common

// AuthorizationHeaderName carries the bearer JWT identifying the caller's wallet.
const AuthorizationHeaderName = "Authorization"

// WalletContextKey is the gin context key holding the authenticated wallet address.
const WalletContextKey = "wallet"
