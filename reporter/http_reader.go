// Reader is a testing facility to read the output of a http reporter.

package reporter

import (
	"io"
	"net/http"
	"net/url"
)

type HttpReader struct {
	serverIP   string // listen ip
	serverPort string // listen port
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
	}
}

func (hr *HttpReader) GetHello() (string, error) {
	return hr.get(ROUTE_HELLO)
}

func (hr *HttpReader) GetBalances(address string) (string, error) {
	return hr.get(ROUTE_BALANCES + "?address=" + url.QueryEscape(address))
}

func (hr *HttpReader) GetBanknote(id string) (string, error) {
	return hr.get(ROUTE_BANKNOTES + "/" + url.PathEscape(id))
}

// ListBanknotes lists ledger rows; an empty status lists all of them.
func (hr *HttpReader) ListBanknotes(status string) (string, error) {
	if status == "" {
		return hr.get(ROUTE_BANKNOTES)
	}
	return hr.get(ROUTE_BANKNOTES + "?status=" + url.QueryEscape(status))
}

func (hr *HttpReader) GetTx(txHash string) (string, error) {
	return hr.get(ROUTE_TX + "/" + url.PathEscape(txHash))
}

// get returns the body whatever the status code is.
func (hr *HttpReader) get(route string) (string, error) {
	resp, err := http.Get("http://" + hr.serverIP + ":" + hr.serverPort + route)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
