package cmd

import (
	"fmt"
)

const banner = `
     _            _             _       
 ___| |_ ___  ___| | __ _  __ _| |_ ___ 
/ __| __/ _ \/ _ \ |/ _` + "`" + ` |/ _` + "`" + ` | __/ _ \
\__ \ ||  __/  __/ | (_| | (_| | ||  __/
|___/\__\___|\___|_|\__, |\__,_|\__\___|
                    |___/               
`

func printBanner() {
	fmt.Printf("\x1b[36m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Challenge/Response Login - Version %s\x1b[0m\n\n", Version)
}
