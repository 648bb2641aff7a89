package main

import "github.com/frahmantamala/partner-payout/cmd"

func main() {
	cmd.Execute()
}
