// Command council runs multi-model consensus sessions over OpenRouter.
package main

import "github.com/Dicklesworthstone/council/internal/cli"

func main() {
	cli.Execute()
}
