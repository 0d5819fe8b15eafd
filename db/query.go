package db

import "github.com/Sopel97/chess-pos-db-sub001/query"

// Query resolves req against the database, delegating to query.Execute
// with d itself as the Backend.
func (d *Database) Query(req query.Request) (query.Response, error) {
	return query.Execute(d, req)
}
