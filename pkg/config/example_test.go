package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/starload/pkg/config"
)

// ExampleDefault demonstrates the defaults every deployment starts from.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Driver: %s\n", cfg.Warehouse.Driver)
	fmt.Printf("Connect attempts: %d\n", cfg.Reliability.ConnectAttempts)
	fmt.Printf("Connect interval: %s\n", cfg.Reliability.ConnectInterval)
	fmt.Printf("Orders: %s\n", cfg.Sources.Locations()["orders"])

	// Output:
	// Driver: postgres
	// Connect attempts: 10
	// Connect interval: 3s
	// Orders: input/olist_orders_dataset.csv
}

// ExampleConfig_Validate shows how to validate a configuration
// before using it.
func ExampleConfig_Validate() {
	cfg := config.Default()
	cfg.Warehouse.Driver = config.DriverSQLite
	cfg.Warehouse.DSN = "file:dw.db"

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("Configuration is valid!")

	// Output:
	// Configuration is valid!
}
