package database

// HNSWEfSearch is the search candidate pool size for in-memory and pgvector indexes.
// Higher values improve recall but slow down search.
const HNSWEfSearch = 100

// Strategy names reported by the query cascade.
const (
	StrategyNative         = "native"
	StrategySubquery       = "subquery"
	StrategyNativeGlobal   = "native-global"
	StrategySubqueryGlobal = "subquery-global"
	StrategyScan           = "local-scan"
)
