package models

import "strings"

const keyPrefix = "rl"

// BucketKey builds the storage key for one (tier, route, caller) bucket.
// Colons in the caller identity are collapsed so a crafted identity cannot
// alias another bucket.
func BucketKey(tier Tier, route, caller string) string {
	caller = strings.ReplaceAll(caller, ":", "_")
	return keyPrefix + ":" + string(tier) + ":" + route + ":" + caller
}
