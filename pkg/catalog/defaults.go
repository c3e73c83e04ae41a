package catalog

import "fmt"

// Built-in role codes
const (
	RoleSuperAdmin        = "ROLE_SUPER_ADMIN"
	RoleOrganizationAdmin = "ROLE_ORGANIZATION_ADMIN"
	RoleHospitalAdmin     = "ROLE_HOSPITAL_ADMIN"
	RoleDoctor            = "ROLE_DOCTOR"
	RoleSurgeon           = "ROLE_SURGEON"
	RoleNurse             = "ROLE_NURSE"
	RoleMidwife           = "ROLE_MIDWIFE"
	RolePharmacist        = "ROLE_PHARMACIST"
	RoleLabScientist      = "ROLE_LAB_SCIENTIST"
	RoleRadiologist       = "ROLE_RADIOLOGIST"
	RoleReceptionist      = "ROLE_RECEPTIONIST"
	RoleBillingSpecialist = "ROLE_BILLING_SPECIALIST"
	RoleStaff             = "ROLE_STAFF"
	RolePatient           = "ROLE_PATIENT"
)

// Permission strings
const (
	PermDashboardView       = "dashboard:view"
	PermProfileView         = "profile:view"
	PermProfileUpdate       = "profile:update"
	PermSystemManage        = "system:manage"
	PermOrganizationsManage = "organizations:manage"
	PermOrganizationView    = "organization:view"
	PermHospitalsManage     = "hospitals:manage"
	PermHospitalView        = "hospital:view"
	PermStaffManage         = "staff:manage"
	PermStaffView           = "staff:view"
	PermAssignmentsManage   = "assignments:manage"
	PermAssignmentsImport   = "assignments:import"
	PermReportsView         = "reports:view"
	PermPatientsRead        = "patients:read"
	PermPatientsWrite       = "patients:write"
	PermPatientsRegister    = "patients:register"
	PermEncountersRead      = "encounters:read"
	PermEncountersWrite     = "encounters:write"
	PermPrescriptionsWrite  = "prescriptions:write"
	PermPrescriptionsRead   = "prescriptions:read"
	PermPrescriptionsFill   = "prescriptions:dispense"
	PermSurgeryManage       = "surgery:manage"
	PermVitalsRecord        = "vitals:record"
	PermMaternityManage     = "maternity:manage"
	PermLabOrdersRead       = "lab_orders:read"
	PermLabResultsWrite     = "lab_results:write"
	PermImagingRead         = "imaging:read"
	PermImagingReport       = "imaging:report"
	PermAppointmentsManage  = "appointments:manage"
	PermBillingManage       = "billing:manage"
	PermBillingView         = "billing:view"
	PermRecordsSelf         = "records:self"
	PermAppointmentsSelf    = "appointments:self"
)

// DefaultDefinition returns the built-in catalog definition
func DefaultDefinition() Definition {
	clinical := []string{PermDashboardView, PermProfileView, PermProfileUpdate, PermHospitalView}

	return Definition{
		Fallback: []string{PermDashboardView, PermProfileView},
		Roles: []Entry{
			{
				Code:        RoleSuperAdmin,
				DisplayName: "Super Admin",
				Priority:    0,
				Permissions: []string{
					PermDashboardView, PermSystemManage, PermOrganizationsManage, PermHospitalsManage,
					PermStaffManage, PermAssignmentsManage, PermAssignmentsImport, PermReportsView,
				},
			},
			{
				Code:        RoleOrganizationAdmin,
				DisplayName: "Organization Admin",
				Priority:    1,
				Permissions: []string{
					PermDashboardView, PermOrganizationView, PermHospitalsManage, PermStaffManage,
					PermAssignmentsManage, PermAssignmentsImport, PermReportsView,
				},
			},
			{
				Code:        RoleHospitalAdmin,
				DisplayName: "Hospital Admin",
				Priority:    2,
				Permissions: []string{
					PermDashboardView, PermHospitalView, PermStaffManage, PermAssignmentsManage,
					PermReportsView, PermBillingView,
				},
			},
			{
				Code:        RoleDoctor,
				DisplayName: "Doctor",
				Priority:    3,
				Permissions: append(clinical,
					PermPatientsRead, PermPatientsWrite, PermEncountersRead, PermEncountersWrite,
					PermPrescriptionsWrite, PermLabOrdersRead, PermImagingRead,
				),
			},
			{
				Code:        RoleSurgeon,
				DisplayName: "Surgeon",
				Priority:    4,
				Permissions: append(clinical,
					PermPatientsRead, PermPatientsWrite, PermEncountersRead, PermEncountersWrite,
					PermSurgeryManage, PermPrescriptionsWrite, PermImagingRead,
				),
			},
			{
				Code:        RoleNurse,
				DisplayName: "Nurse",
				Priority:    5,
				Permissions: append(clinical,
					PermPatientsRead, PermEncountersRead, PermVitalsRecord, PermPrescriptionsRead,
				),
			},
			{
				Code:        RoleMidwife,
				DisplayName: "Midwife",
				Priority:    6,
				Permissions: append(clinical,
					PermPatientsRead, PermEncountersRead, PermVitalsRecord, PermMaternityManage,
				),
			},
			{
				Code:        RolePharmacist,
				DisplayName: "Pharmacist",
				Priority:    7,
				Permissions: append(clinical,
					PermPatientsRead, PermPrescriptionsRead, PermPrescriptionsFill,
				),
			},
			{
				Code:        RoleLabScientist,
				DisplayName: "Lab Scientist",
				Priority:    8,
				Permissions: append(clinical,
					PermPatientsRead, PermLabOrdersRead, PermLabResultsWrite,
				),
			},
			{
				Code:        RoleRadiologist,
				DisplayName: "Radiologist",
				Priority:    9,
				Permissions: append(clinical,
					PermPatientsRead, PermImagingRead, PermImagingReport,
				),
			},
			{
				Code:        RoleReceptionist,
				DisplayName: "Receptionist",
				Priority:    10,
				Permissions: []string{
					PermDashboardView, PermProfileView, PermHospitalView, PermPatientsRegister,
					PermAppointmentsManage,
				},
			},
			{
				Code:        RoleBillingSpecialist,
				DisplayName: "Billing Specialist",
				Priority:    11,
				Permissions: []string{
					PermDashboardView, PermProfileView, PermHospitalView, PermBillingManage, PermBillingView,
				},
			},
			{
				Code:        RoleStaff,
				DisplayName: "Staff",
				Priority:    12,
				Permissions: []string{PermDashboardView, PermProfileView, PermHospitalView, PermStaffView},
			},
			{
				Code:        RolePatient,
				DisplayName: "Patient",
				Priority:    13,
				Permissions: []string{PermDashboardView, PermProfileView, PermRecordsSelf, PermAppointmentsSelf},
			},
		},
	}
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := New(DefaultDefinition())
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}
