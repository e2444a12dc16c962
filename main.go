package main

import "github.com/alexgrankinukr-hash/Company-in-a-box-sub000/cmd"

func main() {
	cmd.Execute()
}
