package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	&SysOpr{},
	&SysOprLog{},
	// Tenancy
	&Tenant{},
	// Messaging
	&WaCredential{},
	&WaRateCounter{},
	// Delivery
	&DeliveryAgent{},
	&DeliveryOrder{},
}
