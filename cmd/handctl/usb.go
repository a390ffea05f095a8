package main

import "github.com/google/gousb"

// gousbID narrows a CLI-flag uint16 into gousb's vendor/product ID type.
func gousbID(v uint16) gousb.ID { return gousb.ID(v) }
