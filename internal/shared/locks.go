package shared

import "fmt"

// SweepLockKey builds redis keys serialising batch sweeps across workers.
func SweepLockKey(sweep string) string {
	return fmt.Sprintf("stockengine:sweep:%s:lock", sweep)
}

// ProductSweepLockKey scopes a sweep lock to one product.
func ProductSweepLockKey(sweep string, productID int64) string {
	return fmt.Sprintf("stockengine:sweep:%s:product:%d:lock", sweep, productID)
}
