package evm

import (
	"math/big"
	"time"
)

func toDuration(seconds *big.Int) time.Duration {
	return time.Duration(seconds.Int64()) * time.Second
}

func toTime(unixSeconds *big.Int) time.Time {
	return time.Unix(unixSeconds.Int64(), 0).UTC()
}
