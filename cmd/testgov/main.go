// Command testgov inspects contract catalogs, verifies receipts and the
// receipt ledger, and exports ledger evidence.
package main

import "os"

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}
