package main

import "example.com/ordersvc/cmd"

func main() {
	cmd.Execute()
}
