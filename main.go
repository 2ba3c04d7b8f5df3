// The main package for the location-analyzer executable.
package main

import (
	"github.com/alisufyan143/location-analyzer-v2/cmd"
)

func main() {
	cmd.Execute()
}
