// Command storefinder serves the search API or runs a single search from the
// command line.
package main

import "github.com/JakeFAU/storefinder/cmd"

func main() {
	cmd.Execute()
}
