// Command matchd scores students against university programs and serves the
// cached ranked match sets.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
