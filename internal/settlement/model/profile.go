package model

import "time"

// ChainFamily groups blockchains by consensus/fee model.
type ChainFamily string

const (
	FamilyEVM     ChainFamily = "evm"
	FamilyBitcoin ChainFamily = "bitcoin"
	FamilySolana  ChainFamily = "solana"
)

// NetworkProfile is the static, process-wide configuration for one
// blockchain key. Loaded at startup and read-only afterwards.
type NetworkProfile struct {
	Family                ChainFamily
	RequiredConfirmations uint64
	InitialMonitorDelay   time.Duration
}

// DefaultProfiles returns the built-in per-chain settlement profiles.
// Config may override individual fields; unlisted chains fall back to
// DefaultProfile.
func DefaultProfiles() map[string]NetworkProfile {
	return map[string]NetworkProfile{
		"ethereum": {Family: FamilyEVM, RequiredConfirmations: 12, InitialMonitorDelay: 5 * time.Minute},
		"bsc":      {Family: FamilyEVM, RequiredConfirmations: 12, InitialMonitorDelay: 30 * time.Second},
		"bitcoin":  {Family: FamilyBitcoin, RequiredConfirmations: 3, InitialMonitorDelay: 10 * time.Minute},
		"solana":   {Family: FamilySolana, RequiredConfirmations: 32, InitialMonitorDelay: 15 * time.Second},
	}
}

// DefaultProfile is used for blockchain keys without an explicit profile.
var DefaultProfile = NetworkProfile{
	Family:                FamilyEVM,
	RequiredConfirmations: 12,
	InitialMonitorDelay:   2 * time.Minute,
}

// ProfileFor resolves the profile for a blockchain key, falling back to
// DefaultProfile for unknown chains.
func ProfileFor(profiles map[string]NetworkProfile, blockchainKey string) NetworkProfile {
	if p, ok := profiles[blockchainKey]; ok {
		return p
	}
	return DefaultProfile
}
