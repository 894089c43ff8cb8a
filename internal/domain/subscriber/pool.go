package subscriber

// Pool identifies an independently billed traffic bucket.
type Pool string

const (
	PoolPrimary Pool = "primary"
	PoolBypass  Pool = "bypass"
)

func (p Pool) IsValid() bool {
	return p == PoolPrimary || p == PoolBypass
}

func (p Pool) String() string {
	return string(p)
}

// WarnThresholds are the ordered usage-percentage warning levels per pool.
var WarnThresholds = [3]int{50, 70, 90}
