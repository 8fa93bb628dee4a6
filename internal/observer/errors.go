package observer

import "errors"

var errObserverPanic = errors.New("observer: recovered panic during compute")
var errCustomMetricPanic = errors.New("observer: recovered panic in custom metric")
