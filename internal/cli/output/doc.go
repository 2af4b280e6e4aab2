// Package output renders sabledb-cli results.
//
//   - reply.go: RESP replies, redis-cli style or raw
//   - table.go: admin reports as aligned columns
//   - json.go, yaml.go: machine-readable admin reports
package output
