package main

import "median-fee-estimator/internal/cli"

func main() {
	cli.Execute()
}
