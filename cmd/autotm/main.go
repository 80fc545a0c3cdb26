package main

import (
	"log"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
