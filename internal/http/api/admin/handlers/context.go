package handlers

// AdminUsernameKey is the gin context key holding the authenticated admin.
const AdminUsernameKey = "adminUsername"
