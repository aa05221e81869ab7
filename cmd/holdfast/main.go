// holdfast — access control core for multi-tenant agent platforms.
package main

import "github.com/holdfast-sec/holdfast/internal/cli"

func main() {
	cli.Execute()
}
