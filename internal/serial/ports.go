package serial

import (
	"fmt"
	"io"
	"strings"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Ports enumerates and opens serial endpoints.
type Ports interface {
	List() ([]Endpoint, error)
	Open(name string, baudRate int) (io.ReadCloser, error)
}

// USB vendor ids of the bridge chips commonly found on flight hardware.
var vendors = map[string]string{
	"10c4": "Silicon Labs",
	"2341": "Arduino",
	"2a03": "Arduino",
	"1a86": "QinHeng CH340",
	"0403": "FTDI",
	"067b": "Prolific",
}

// SystemPorts is the Ports implementation backed by the operating system.
type SystemPorts struct{}

func (SystemPorts) List() ([]Endpoint, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating ports: %w", err)
	}

	endpoints := make([]Endpoint, 0, len(details))
	for _, d := range details {
		endpoints = append(endpoints, Endpoint{
			Name:         d.Name,
			Manufacturer: vendors[strings.ToLower(d.VID)],
			Product:      d.Product,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return endpoints, nil
}

func (SystemPorts) Open(name string, baudRate int) (io.ReadCloser, error) {
	port, err := bugst.Open(name, &bugst.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, err
	}
	return port, nil
}
