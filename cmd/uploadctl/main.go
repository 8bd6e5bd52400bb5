// Command uploadctl uploads files through an uploadd coordinator and runs
// orphan reclamation against the bucket.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
