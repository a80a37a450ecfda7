package utils

import "strconv"

//=========================================== Port Utils

// NormalizePort turns a bare port number into the ":<port>" form net.Listen
// and http.ListenAndServe expect.
func NormalizePort(port int) string {
	return ":" + strconv.Itoa(port)
}
