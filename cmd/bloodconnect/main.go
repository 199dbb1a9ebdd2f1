// Command bloodconnect runs the BloodConnect identity and session service.
package main

import "github.com/enteecaay/BloodDonation-prototype/cmd/bloodconnect/cmd"

func main() {
	cmd.Execute()
}
