package main

import "github.com/frahmantamala/payment-gateway-shim/cmd"

func main() {
	cmd.Execute()
}
