// Package all wires every built-in warehouse backend into the factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each backend, which register their
// factories with the warehouse package. Importing it makes these kinds
// available through warehouse.New:
//
//   - "bigquery" (helperetl/internal/warehouse/bigquery)
//   - "postgres" (helperetl/internal/warehouse/postgres)
//   - "sqlite"   (helperetl/internal/warehouse/sqlite)
//
// A binary that wants only a subset of backends can blank-import the
// individual backend packages instead.
package all

import (
	_ "helperetl/internal/warehouse/bigquery"
	_ "helperetl/internal/warehouse/postgres"
	_ "helperetl/internal/warehouse/sqlite"
)
