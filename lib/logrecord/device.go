// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logrecord

// Device is the snapshot of device and application properties attached
// to every record of a session. The host collects it; the pipeline only
// carries it.
type Device struct {
	SDKName           string `json:"sdkName"`
	SDKVersion        string `json:"sdkVersion"`
	Model             string `json:"model,omitempty"`
	OEMName           string `json:"oemName,omitempty"`
	OSName            string `json:"osName"`
	OSVersion         string `json:"osVersion"`
	OSBuild           string `json:"osBuild,omitempty"`
	Locale            string `json:"locale"`
	TimeZoneOffset    int    `json:"timeZoneOffset"`
	ScreenSize        string `json:"screenSize,omitempty"`
	AppVersion        string `json:"appVersion"`
	AppBuild          string `json:"appBuild"`
	AppNamespace      string `json:"appNamespace,omitempty"`
	CarrierName       string `json:"carrierName,omitempty"`
	CarrierCountry    string `json:"carrierCountry,omitempty"`
	WrapperSDKName    string `json:"wrapperSdkName,omitempty"`
	WrapperSDKVersion string `json:"wrapperSdkVersion,omitempty"`
}
