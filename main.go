package main

import "github.com/deploymenttheory/go-wsi-deid/cmd"

func main() {
	cmd.Execute()
}
